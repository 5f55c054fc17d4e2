package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/metrics"
)

// Sink receives every error record as it is appended, so the structured log
// file stays in step with the in-memory session. Implementations must be
// safe for concurrent use; Stage-1 workers report from many goroutines.
type Sink interface {
	Record(sessionID string, rec ErrorRecord)
}

// Tracker is the single point of truth for what happened during each
// session. It only records what the executors and the dispatcher report; it
// never decides retries or backoff itself.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
	sink     Sink // optional
}

// NewTracker creates a session tracker. sink may be nil.
func NewTracker(logger *zap.Logger, sink Sink) *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		logger:   logger,
		sink:     sink,
	}
}

// Start opens a new session for the given query. An empty or blank query is
// the one condition that surfaces as a user-visible failure, before any
// dispatch occurs.
func (t *Tracker) Start(query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("empty query")
	}

	id := uuid.New().String()
	s := &Session{
		ID:          id,
		Query:       query,
		StartedAt:   time.Now(),
		Status:      StatusRunning,
		RateLimited: make(map[string]int),
	}

	t.mu.Lock()
	t.sessions[id] = s
	t.mu.Unlock()

	t.logger.Info("Session started",
		zap.String("session_id", id),
		zap.String("query", query),
	)
	metrics.SessionsStarted.Inc()

	return id, nil
}

// RecordOutcome records one completed lookup or backend call. errorType and
// message are ignored when ok is true. Recording into a finalized session
// returns ErrSessionEnded and leaves it unchanged.
func (t *Tracker) RecordOutcome(sessionID, component string, ok bool, errorType, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.sessions[sessionID]
	if !found {
		return ErrSessionNotFound
	}
	if s.Status != StatusRunning {
		return ErrSessionEnded
	}

	if ok {
		s.Succeeded = append(s.Succeeded, component)
		metrics.OutcomesRecorded.WithLabelValues(component, "ok").Inc()
		return nil
	}

	s.Failed = append(s.Failed, component)
	rec := ErrorRecord{
		Timestamp: time.Now(),
		Component: component,
		ErrorType: errorType,
		Message:   message,
	}
	s.ErrorLog = append(s.ErrorLog, rec)
	metrics.OutcomesRecorded.WithLabelValues(component, "error").Inc()

	if t.sink != nil {
		t.sink.Record(sessionID, rec)
	}
	return nil
}

// RecordRateLimit counts a rate-limit hit against a backend. The hit is also
// an error record; the dispatcher separately maintains backoff state.
func (t *Tracker) RecordRateLimit(sessionID, backend string, retryAfter time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.sessions[sessionID]
	if !found {
		return ErrSessionNotFound
	}
	if s.Status != StatusRunning {
		return ErrSessionEnded
	}

	s.RateLimited[backend]++
	rec := ErrorRecord{
		Timestamp: time.Now(),
		Component: backend,
		ErrorType: "RateLimited",
		Message:   fmt.Sprintf("rate limited, retry after %s", retryAfter),
	}
	s.ErrorLog = append(s.ErrorLog, rec)
	metrics.RateLimitHits.WithLabelValues(backend).Inc()

	if t.sink != nil {
		t.sink.Record(sessionID, rec)
	}
	return nil
}

// End finalizes a session. Ending an already-ended session is a no-op so a
// deferred failure path can't clobber a completed status.
func (t *Tracker) End(sessionID string, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, found := t.sessions[sessionID]
	if !found {
		return ErrSessionNotFound
	}
	if s.Status != StatusRunning {
		return nil
	}

	s.Status = status
	s.EndedAt = time.Now()

	t.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)),
		zap.Duration("duration", s.EndedAt.Sub(s.StartedAt)),
		zap.Int("succeeded", len(s.Succeeded)),
		zap.Int("failed", len(s.Failed)),
	)
	metrics.SessionsEnded.WithLabelValues(string(status)).Inc()
	return nil
}

// Summary returns the post-hoc view of a session. Slices and maps are
// copies; callers can't mutate tracker state through them.
func (t *Tracker) Summary(sessionID string) (*Summary, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, found := t.sessions[sessionID]
	if !found {
		return nil, ErrSessionNotFound
	}

	sum := &Summary{
		SessionID:     s.ID,
		Query:         s.Query,
		Status:        s.Status,
		Succeeded:     append([]string(nil), s.Succeeded...),
		Failed:        append([]string(nil), s.Failed...),
		RateLimitsHit: make(map[string]int, len(s.RateLimited)),
		ErrorCount:    len(s.ErrorLog),
	}
	for k, v := range s.RateLimited {
		sum.RateLimitsHit[k] = v
	}
	if !s.EndedAt.IsZero() {
		sum.Duration = s.EndedAt.Sub(s.StartedAt)
	} else {
		sum.Duration = time.Since(s.StartedAt)
	}
	return sum, nil
}

// Snapshot returns a copy of the full session for persistence.
func (t *Tracker) Snapshot(sessionID string) (*Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, found := t.sessions[sessionID]
	if !found {
		return nil, ErrSessionNotFound
	}

	cp := *s
	cp.Succeeded = append([]string(nil), s.Succeeded...)
	cp.Failed = append([]string(nil), s.Failed...)
	cp.ErrorLog = append([]ErrorRecord(nil), s.ErrorLog...)
	cp.RateLimited = make(map[string]int, len(s.RateLimited))
	for k, v := range s.RateLimited {
		cp.RateLimited[k] = v
	}
	return &cp, nil
}
