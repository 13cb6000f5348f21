// Package errs collects the sentinel errors shared across the gateway,
// agent, and worker binaries. Call sites wrap these with fmt.Errorf and
// "%w" so callers can still recover the underlying kind with errors.Is.
package errs

import "errors"

// Configuration errors. These are fatal at startup, never at request time.
var (
	ErrMissingSecret     = errors.New("JWT_SECRET is not set")
	ErrMissingPolicyFile = errors.New("policy file is not configured")
	ErrMissingTLSCert    = errors.New("TLS certificate is not configured")
	ErrMissingCACert     = errors.New("pinned CA certificate is not configured")
	ErrMissingProxyURL   = errors.New("PROXY_URL is not set")
	ErrMissingTenant     = errors.New("agent tenant identifier is not set")
	ErrMissingDBPath     = errors.New("DB_PATH is not set")
)

// Token errors, returned (wrapped) by tokenauth.Validator.Validate. The
// gateway answers any of them with 401, which the agent's transport
// reports as ErrAuth.
var (
	ErrMalformed    = errors.New("token is malformed")
	ErrBadSignature = errors.New("token signature is invalid")
	ErrExpired      = errors.New("token has expired")
	ErrNotYetValid  = errors.New("token is not yet valid")
	ErrNoTenant     = errors.New("token carries no tenant claim")
)

// Request-time errors, each mapped to an HTTP status at the gateway's
// handler boundary. None of these are fatal to the gateway process.
var (
	ErrPolicyDenied  = errors.New("policy denied")
	ErrProtocol      = errors.New("worker protocol error")
	ErrWorkerTimeout = errors.New("worker did not respond before the deadline")
	ErrWorkerFault   = errors.New("worker reported an error")
)

// Transport errors, surfaced to agent callers.
var (
	ErrTransport = errors.New("transport failure")
	ErrAuth      = errors.New("authentication failed")
)
