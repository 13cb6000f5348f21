package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	s.Write(Record{Tenant: "tenant_a", Target: "a", Method: "insert", Decision: DecisionAllow, Outcome: "success"})
	s.Write(Record{Tenant: "tenant_a", Target: "b", Method: "select", Decision: DecisionDeny, Outcome: "access denied"})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, DecisionAllow, first.Decision)

	var second Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, DecisionDeny, second.Decision)
}

func TestWriteStampsTimestampWhenZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	s.Write(Record{Tenant: "tenant_a", Target: "a", Decision: DecisionAllow})

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec Record
	require.NoError(t, json.Unmarshal(b[:len(b)-1], &rec))
	assert.False(t, rec.Timestamp.IsZero())
}
