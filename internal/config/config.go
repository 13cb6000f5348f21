// Package config loads the typed, validated configuration for each of
// the three binaries (gateway, agent, worker) from environment
// variables: typed fields, a Validate() that fills in defaults and
// rejects missing required values with a named sentinel error.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/relaygate/relaygate/internal/errs"
)

// GatewayConfig configures cmd/gateway.
type GatewayConfig struct {
	// ListenAddr is the TCP address the HTTPS server binds to.
	// Default: ":8443"
	ListenAddr string

	// JWTSecret is the shared HMAC secret used to verify agent tokens.
	JWTSecret string

	// TLSCertFile/TLSKeyFile are the gateway's own server certificate,
	// presented to connecting agents.
	TLSCertFile string
	TLSKeyFile  string

	// ClientCAFile pins the CA that signed agent client certificates,
	// for the mutual-TLS handshake.
	ClientCAFile string

	// PolicyFile is the (subject, object, action) permission set.
	PolicyFile string

	// DataDir holds the per-tenant worker data files.
	// Default: "./data"
	DataDir string

	// WorkerBin is the path to the worker executable supervisor spawns.
	WorkerBin string

	// AuditLogPath is where allow/deny decisions are appended.
	// Default: "./audit.log"
	AuditLogPath string

	// LogLevel is the zerolog level name. Default: "info"
	LogLevel string

	// RedisAddr, if set, enables the replay-guard cache.
	RedisAddr string

	// MetricsAddr, if set, serves Prometheus metrics on this address.
	MetricsAddr string
}

// GatewayFromEnv loads a GatewayConfig from environment variables.
func GatewayFromEnv() GatewayConfig {
	return GatewayConfig{
		ListenAddr:   getenv("LISTEN_ADDR", ":8443"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		TLSCertFile:  os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:   os.Getenv("TLS_KEY_FILE"),
		ClientCAFile: os.Getenv("CLIENT_CA_FILE"),
		PolicyFile:   os.Getenv("POLICY_FILE"),
		DataDir:      getenv("DATA_DIR", "./data"),
		WorkerBin:    os.Getenv("WORKER_BIN"),
		AuditLogPath: getenv("AUDIT_LOG_PATH", "./audit.log"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
	}
}

// Validate fills in defaults and rejects missing required fields.
func (c *GatewayConfig) Validate() error {
	if c.JWTSecret == "" {
		return errs.ErrMissingSecret
	}
	if c.PolicyFile == "" {
		return errs.ErrMissingPolicyFile
	}
	if c.TLSCertFile == "" || c.TLSKeyFile == "" {
		return errs.ErrMissingTLSCert
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = "./audit.log"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// AgentConfig configures cmd/agent.
type AgentConfig struct {
	// Tenant is this agent's identity, embedded in every minted token.
	Tenant string

	// JWTSecret is the shared HMAC secret used to mint tokens.
	JWTSecret string

	// GatewayURL is the gateway's base HTTPS URL, e.g.
	// https://gateway.internal:8443.
	GatewayURL string

	// CAFile pins the gateway's TLS certificate (or the CA that signed
	// it) so the agent refuses to talk to an impostor.
	CAFile string

	// ClientCertFile/ClientKeyFile present the agent's own identity for
	// mutual TLS, if the gateway requires it.
	ClientCertFile string
	ClientKeyFile  string

	// RequestTimeout sets cmd/agent's overall deadline for a call:
	// the call command allows RequestTimeout*(MaxRetries+1), loadtest
	// allows RequestTimeout per call. Each HTTP attempt is bounded
	// separately by transport.AttemptTimeout.
	// Default: 30s
	RequestTimeout time.Duration

	// MaxRetries is used only to size the call command's deadline; the
	// transport's number of attempts is fixed by transport.MaxAttempts.
	// Default: 3
	MaxRetries int

	LogLevel string
}

// AgentFromEnv loads an AgentConfig from environment variables.
func AgentFromEnv() AgentConfig {
	retries, _ := strconv.Atoi(getenv("MAX_RETRIES", "3"))
	timeoutSec, _ := strconv.Atoi(getenv("REQUEST_TIMEOUT_SECONDS", "30"))
	return AgentConfig{
		Tenant:         os.Getenv("AGENT_TENANT"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		GatewayURL:     os.Getenv("PROXY_URL"),
		CAFile:         os.Getenv("CA_FILE"),
		ClientCertFile: os.Getenv("CLIENT_CERT_FILE"),
		ClientKeyFile:  os.Getenv("CLIENT_KEY_FILE"),
		RequestTimeout: time.Duration(timeoutSec) * time.Second,
		MaxRetries:     retries,
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}
}

// Validate fills in defaults and rejects missing required fields.
func (c *AgentConfig) Validate() error {
	if c.Tenant == "" {
		return errs.ErrMissingTenant
	}
	if c.JWTSecret == "" {
		return errs.ErrMissingSecret
	}
	if c.GatewayURL == "" {
		return errs.ErrMissingProxyURL
	}
	if c.CAFile == "" {
		return errs.ErrMissingCACert
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

// WorkerConfig configures cmd/worker, which never reads the process
// environment itself beyond these two variables: everything else about
// a worker's identity is fixed by how the supervisor spawns it.
type WorkerConfig struct {
	// DBPath is the file-backed store this worker instance owns.
	DBPath string

	// Target is the tenant/target name the supervisor spawned this
	// worker for, used only for log context.
	Target string
}

// WorkerFromEnv loads a WorkerConfig from environment variables.
func WorkerFromEnv() WorkerConfig {
	return WorkerConfig{
		DBPath: os.Getenv("DB_PATH"),
		Target: os.Getenv("WORKER_TARGET"),
	}
}

// Validate rejects a missing DB path; Target is informational only.
func (c *WorkerConfig) Validate() error {
	if c.DBPath == "" {
		return errs.ErrMissingDBPath
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
