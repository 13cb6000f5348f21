package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/audit"
	"github.com/relaygate/relaygate/internal/errs"
	"github.com/relaygate/relaygate/internal/policy"
	"github.com/relaygate/relaygate/internal/tokenauth"
)

type fakeValidator struct {
	tenant string
	err    error
}

func (f fakeValidator) Validate(raw string) (tokenauth.Claim, error) {
	if f.err != nil {
		return tokenauth.Claim{}, f.err
	}
	return tokenauth.Claim{Tenant: f.tenant}, nil
}

type fakeCaller struct {
	result interface{}
	err    error
}

func (f fakeCaller) Call(ctx context.Context, target, method string, params map[string]interface{}) (interface{}, error) {
	return f.result, f.err
}

func newTestSink(t *testing.T) *audit.Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := audit.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func newTestSinkAtPath(t *testing.T, path string) *audit.Sink {
	t.Helper()
	sink, err := audit.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func lastAuditRecord(t *testing.T, path string) audit.Record {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.NotEmpty(t, lines)
	var rec audit.Record
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func loadPolicy(t *testing.T, contents string) *policy.Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	set, err := policy.Load(path)
	require.NoError(t, err)
	return set
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s := New(fakeValidator{}, loadPolicy(t, ""), fakeCaller{}, newTestSink(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallEndpointRejectsMissingBearerToken(t *testing.T) {
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), fakeCaller{}, newTestSink(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{}`)))
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallEndpointRejectsInvalidToken(t *testing.T) {
	s := New(fakeValidator{err: errs.ErrExpired}, loadPolicy(t, "p, tenant_a, db1, access"), fakeCaller{}, newTestSink(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallEndpointDeniesOutsidePolicy(t *testing.T) {
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), fakeCaller{}, newTestSink(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db2", bytes.NewReader([]byte(`{"method":"select"}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallEndpointReturnsWorkerResult(t *testing.T) {
	caller := fakeCaller{result: map[string]interface{}{"rows": 1}}
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), caller, newTestSink(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{"method":"select","params":{}}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body["result"])
}

func TestCallEndpointMapsWorkerTimeoutTo504(t *testing.T) {
	caller := fakeCaller{err: errs.ErrWorkerTimeout}
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), caller, newTestSink(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{"method":"select"}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestCallEndpointMapsWorkerFaultTo502(t *testing.T) {
	caller := fakeCaller{err: errs.ErrWorkerFault}
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), caller, newTestSink(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{"method":"select"}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCallEndpointAuditsRequestParams(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	caller := fakeCaller{result: map[string]interface{}{"rows": 1}}
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), caller, newTestSinkAtPath(t, auditPath))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`{"method":"select","params":{"id":7}}`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got := lastAuditRecord(t, auditPath)
	require.NotNil(t, got.Params)
	assert.EqualValues(t, 7, got.Params["id"])
}

func TestCallEndpointRejectsMalformedBody(t *testing.T) {
	s := New(fakeValidator{tenant: "tenant_a"}, loadPolicy(t, "p, tenant_a, db1, access"), fakeCaller{}, newTestSink(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/db1", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Authorization", "Bearer x")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
