// Package audit writes an append-only, newline-delimited JSON record:
// one entry per gateway request, whether it was allowed or denied,
// flushed immediately and best-effort (a write failure never fails the
// caller's request).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/relaygate/relaygate/internal/logger"
)

// Decision records whether the gateway let a request through to a
// worker: deny covers token, request-shape and policy rejections.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Record is a single audited gateway request.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Tenant    string                 `json:"tenant"`
	Target    string                 `json:"target"`
	Method    string                 `json:"method"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Decision  Decision               `json:"decision"`
	Outcome   string                 `json:"outcome"`
}

// Sink is an append-only audit log backed by a single file.
type Sink struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if needed) the audit log at path for appending.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Sink{f: f}, nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	return s.f.Close()
}

// Write appends rec as one JSON line, flushing before returning. A
// write failure is logged, not propagated: auditing is best-effort and
// must never fail the request it describes.
func (s *Sink) Write(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		logger.Component("audit").Error().Err(err).Msg("failed to marshal audit record")
		return
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(b); err != nil {
		logger.Component("audit").Error().Err(err).Msg("failed to write audit record")
		return
	}
	if err := s.f.Sync(); err != nil {
		logger.Component("audit").Error().Err(err).Msg("failed to flush audit record")
	}
}
