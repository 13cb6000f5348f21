package tokenauth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/internal/errs"
)

func sign(t *testing.T, secret []byte, tenant string, iat, exp time.Time) string {
	t.Helper()
	cl := &tokenClaims{
		Tenant: tenant,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func TestValidateAcceptsFreshToken(t *testing.T) {
	secret := []byte("s3cret")
	v := New(secret)
	now := time.Now()

	tok := sign(t, secret, "tenant_a", now, now.Add(5*time.Minute))
	claim, err := v.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "tenant_a", claim.Tenant)
}

func TestValidateRejectsExpired(t *testing.T) {
	secret := []byte("s3cret")
	v := New(secret)
	now := time.Now()

	tok := sign(t, secret, "tenant_a", now.Add(-10*time.Minute), now.Add(-time.Minute))
	_, err := v.Validate(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExpired))
}

func TestValidateRejectsNotYetValid(t *testing.T) {
	secret := []byte("s3cret")
	v := New(secret)
	now := time.Now()

	tok := sign(t, secret, "tenant_a", now.Add(time.Hour), now.Add(2*time.Hour))
	_, err := v.Validate(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotYetValid))
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	v := New([]byte("s3cret"))
	now := time.Now()

	tok := sign(t, []byte("wrong-secret"), "tenant_a", now, now.Add(5*time.Minute))
	_, err := v.Validate(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBadSignature))
}

func TestValidateRejectsMissingTenant(t *testing.T) {
	secret := []byte("s3cret")
	v := New(secret)
	now := time.Now()

	tok := sign(t, secret, "", now, now.Add(5*time.Minute))
	_, err := v.Validate(tok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNoTenant))
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	v := New([]byte("s3cret"))
	now := time.Now()

	cl := &tokenClaims{
		Tenant: "tenant_a",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, cl).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(tok)
	require.Error(t, err)
}
