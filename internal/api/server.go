// Package api is the gateway's HTTP surface: a gin router exposing
// POST /mcp/:target and GET /health, wired through token validation,
// policy enforcement, the worker supervisor, and the audit sink. It
// follows a gin-plus-middleware-chain shape, trimmed to the one route
// this gateway actually serves.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/audit"
	"github.com/relaygate/relaygate/internal/errs"
	"github.com/relaygate/relaygate/internal/logger"
	"github.com/relaygate/relaygate/internal/policy"
	"github.com/relaygate/relaygate/internal/tokenauth"
	"github.com/relaygate/relaygate/internal/workerproto"
)

const requestIDHeader = "X-Request-ID"

// Validator is the subset of tokenauth.Validator the server depends on.
type Validator interface {
	Validate(raw string) (tokenauth.Claim, error)
}

// ReplayGuard optionally rejects a token that has already been used
// once, keyed on the raw bearer token string. A nil ReplayGuard
// disables the check.
type ReplayGuard interface {
	Reject(ctx context.Context, tenant, token string) (bool, error)
}

// Recorder optionally records request outcomes for the /metrics
// endpoint. A nil Recorder disables metrics.
type Recorder interface {
	ObserveRequest(target, decision string, status int, took time.Duration)
	ObserveSpawn(target string)
}

// Caller is the subset of supervisor.Supervisor the server depends on.
type Caller interface {
	Call(ctx context.Context, target, method string, params map[string]interface{}) (interface{}, error)
}

// Server wires the gateway's dependencies into an http.Handler.
type Server struct {
	router    *gin.Engine
	validator Validator
	policy    *policy.Set
	sup       Caller
	auditSink *audit.Sink
	replay    ReplayGuard
	metrics   Recorder
}

// Option configures optional Server enrichments.
type Option func(*Server)

// WithReplayGuard enables replay rejection.
func WithReplayGuard(g ReplayGuard) Option {
	return func(s *Server) { s.replay = g }
}

// WithMetrics enables request/decision counters.
func WithMetrics(r Recorder) Option {
	return func(s *Server) { s.metrics = r }
}

// New builds a Server ready to serve.
func New(validator Validator, policySet *policy.Set, sup Caller, auditSink *audit.Sink, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:    gin.New(),
		validator: validator,
		policy:    policySet,
		sup:       sup,
		auditSink: auditSink,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(gin.Recovery(), requestIDMiddleware(), structuredLogMiddleware())
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/mcp/:target", s.requireBearerToken(), s.handleCall)
	return s
}

// Handler returns the server as an http.Handler, for use with
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type callRequest struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// handleCall implements the request flow: policy check, worker call,
// audit write, error mapping.
func (s *Server) handleCall(c *gin.Context) {
	start := time.Now()
	target := c.Param("target")
	tenant := c.GetString(tenantContextKey)
	token := c.GetString(tokenContextKey)

	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.auditSink.Write(audit.Record{Tenant: tenant, Target: target, Decision: audit.DecisionDeny, Outcome: "malformed request body"})
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	switch req.Method {
	case workerproto.MethodInsert, workerproto.MethodUpdate, workerproto.MethodSelect:
	default:
		s.auditSink.Write(audit.Record{
			Tenant: tenant, Target: target, Method: req.Method, Params: req.Params,
			Decision: audit.DecisionDeny, Outcome: "unsupported method",
		})
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported method"})
		return
	}

	if s.replay != nil {
		rejected, err := s.replay.Reject(c.Request.Context(), tenant, token)
		if err != nil {
			logger.Component("api").Warn().Err(err).Msg("replay guard unavailable, allowing request")
		} else if rejected {
			s.auditSink.Write(audit.Record{
				Tenant: tenant, Target: target, Method: req.Method, Params: req.Params,
				Decision: audit.DecisionDeny, Outcome: "token already used",
			})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token already used"})
			return
		}
	}

	allowed := s.policy.Allow(tenant, target, policy.Action)
	if !allowed {
		s.auditSink.Write(audit.Record{
			Tenant: tenant, Target: target, Method: req.Method, Params: req.Params,
			Decision: audit.DecisionDeny, Outcome: "policy denied",
		})
		s.observe(target, "deny", http.StatusForbidden, start)
		c.JSON(http.StatusForbidden, gin.H{"error": "policy denied"})
		return
	}

	result, err := s.sup.Call(c.Request.Context(), target, req.Method, req.Params)
	if err != nil {
		status, msg := mapCallError(err)
		s.auditSink.Write(audit.Record{
			Tenant: tenant, Target: target, Method: req.Method, Params: req.Params,
			Decision: audit.DecisionAllow, Outcome: msg,
		})
		s.observe(target, "allow", status, start)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	s.auditSink.Write(audit.Record{
		Tenant: tenant, Target: target, Method: req.Method, Params: req.Params,
		Decision: audit.DecisionAllow, Outcome: "success",
	})
	s.observe(target, "allow", http.StatusOK, start)
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) observe(target, decision string, status int, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(target, decision, status, time.Since(start))
	}
}

// mapCallError translates a supervisor.Call failure into the HTTP
// status and message the agent sees.
func mapCallError(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrWorkerTimeout):
		return http.StatusGatewayTimeout, "worker did not respond in time"
	case errors.Is(err, errs.ErrWorkerFault):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, errs.ErrProtocol):
		return http.StatusBadGateway, "worker protocol error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

const (
	tenantContextKey = "tenant"
	tokenContextKey  = "bearer_token"
)

// requireBearerToken validates the Authorization header and stashes
// the tenant claim in the gin context for handleCall to read.
func (s *Server) requireBearerToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			s.auditSink.Write(audit.Record{Target: c.Param("target"), Decision: audit.DecisionDeny, Outcome: "missing bearer token"})
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			c.Abort()
			return
		}

		raw := strings.TrimPrefix(header, prefix)
		claim, err := s.validator.Validate(raw)
		if err != nil {
			s.auditSink.Write(audit.Record{Target: c.Param("target"), Decision: audit.DecisionDeny, Outcome: err.Error()})
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(tenantContextKey, claim.Tenant)
		c.Set(tokenContextKey, raw)
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func structuredLogMiddleware() gin.HandlerFunc {
	log := logger.Component("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Info()
		if c.Writer.Status() >= 500 {
			ev = log.Error()
		} else if c.Writer.Status() >= 400 {
			ev = log.Warn()
		}
		ev.Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("handled request")
	}
}
