package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowsExactMatch(t *testing.T) {
	s, err := parse(strings.NewReader("p, tenant_a, backend_a, access\n"))
	require.NoError(t, err)

	assert.True(t, s.Allow("tenant_a", "backend_a", "access"))
}

func TestParseDefaultDeny(t *testing.T) {
	s, err := parse(strings.NewReader("p, tenant_a, backend_a, access\n"))
	require.NoError(t, err)

	assert.False(t, s.Allow("tenant_a", "backend_b", "access"))
	assert.False(t, s.Allow("tenant_b", "backend_a", "access"))
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	s, err := parse(strings.NewReader("# comment\n\np, tenant_a, backend_a, access\n\n"))
	require.NoError(t, err)

	assert.True(t, s.Allow("tenant_a", "backend_a", "access"))
}

func TestParseAcceptsRoleGroupingWithoutGrantingAccess(t *testing.T) {
	s, err := parse(strings.NewReader("g, tenant_a, admins\n"))
	require.NoError(t, err)

	assert.False(t, s.Allow("tenant_a", "backend_a", "access"),
		"a role grouping line must never be treated as a wildcard allow")
}

func TestParseSkipsUnknownForm(t *testing.T) {
	_, err := parse(strings.NewReader("x, tenant_a, backend_a, access\n"))
	require.NoError(t, err, "unrecognized forms are skipped with a warning, not a load error")
}

func TestParseRejectsMalformedPermissionRule(t *testing.T) {
	_, err := parse(strings.NewReader("p, tenant_a, backend_a\n"))
	require.Error(t, err)
}

func TestParseDuplicateRulesAreIdempotent(t *testing.T) {
	s, err := parse(strings.NewReader("p, tenant_a, backend_a, access\np, tenant_a, backend_a, access\n"))
	require.NoError(t, err)

	assert.Len(t, s.rules, 1)
}
