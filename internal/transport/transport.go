// Package transport is the agent-side HTTP client: a TLS-pinned
// connection to the gateway, bearer-token injection from a
// tokencache.Cache, and the retry/backoff policy the agent must apply
// to a flaky or momentarily-unauthorized gateway, matching the original
// proxy client's call_proxy retry loop.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/relaygate/relaygate/internal/errs"
	"github.com/relaygate/relaygate/internal/logger"
)

// MaxAttempts is how many times Call tries a request before giving up.
const MaxAttempts = 3

// InitialBackoff is the delay before the second attempt; it doubles on
// each subsequent attempt (1s, 2s, 4s, ...).
const InitialBackoff = 1 * time.Second

// AttemptTimeout bounds a single HTTP round trip.
const AttemptTimeout = 30 * time.Second

// TokenSource supplies the bearer token for a request and is told to
// drop it after an authentication failure. tokencache.Cache satisfies
// this.
type TokenSource interface {
	Get() (string, error)
	Invalidate()
}

// Client calls a single pinned gateway over HTTPS.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// New builds a Client pinned to the CA certificate at caFile. An
// optional client certificate pair enables mutual TLS if the gateway
// requires it.
func New(baseURL, caFile, clientCertFile, clientKeyFile string, tokens TokenSource) (*Client, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("%w: read pinned CA: %v", errs.ErrMissingCACert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: CA file contains no usable certificates", errs.ErrMissingCACert)
	}

	tlsConfig := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if clientCertFile != "" && clientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(clientCertFile, clientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		tokens: tokens,
	}, nil
}

// callBody is the JSON body POSTed to /mcp/:target.
type callBody struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// callResult is the JSON body the gateway answers with on success.
type callResult struct {
	Result interface{} `json:"result"`
}

// callError is the JSON body the gateway answers with on failure.
type callError struct {
	Error string `json:"error"`
}

// Call invokes method against target, with the retry/backoff policy:
// up to MaxAttempts tries, a 401 invalidates the cached token and
// retries once without consuming an attempt's backoff delay, and any
// other failure backs off exponentially starting at InitialBackoff.
func (c *Client) Call(ctx context.Context, target, method string, params map[string]interface{}) (interface{}, error) {
	log := logger.Component("transport")
	var lastErr error
	retried401 := false

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		result, retryable401, err := c.attempt(ctx, target, method, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryable401 && !retried401 {
			retried401 = true
			log.Warn().Str("target", target).Msg("token rejected, invalidating and retrying")
			c.tokens.Invalidate()
			attempt--
			continue
		}

		if attempt == MaxAttempts-1 {
			break
		}

		backoff := InitialBackoff * time.Duration(1<<uint(attempt))
		log.Debug().Str("target", target).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying after error")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("%w: %w", errs.ErrTransport, lastErr)
}

// attempt makes one HTTP round trip. The second return value is true
// when the failure was a 401 that should be retried by invalidating the
// cached token, without it counting against the exponential backoff.
func (c *Client) attempt(ctx context.Context, target, method string, params map[string]interface{}) (interface{}, bool, error) {
	token, err := c.tokens.Get()
	if err != nil {
		return nil, false, fmt.Errorf("mint token: %w", err)
	}

	body, err := json.Marshal(callBody{Method: method, Params: params})
	if err != nil {
		return nil, false, fmt.Errorf("encode request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/mcp/%s", c.baseURL, target)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, true, fmt.Errorf("%w: gateway rejected token", errs.ErrAuth)
	}

	if resp.StatusCode != http.StatusOK {
		var ce callError
		_ = json.Unmarshal(respBody, &ce)
		if ce.Error == "" {
			ce.Error = resp.Status
		}
		return nil, false, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, ce.Error)
	}

	var cr callResult
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return cr.Result, false, nil
}
