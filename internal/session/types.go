package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when recording into a finalized session
	ErrSessionEnded = errors.New("session already ended")
)

// Status is the terminal state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrorRecord is one append-only entry in a session's error log.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	ErrorType string    `json:"errorType"`
	Message   string    `json:"message"`
}

// Session is the bounded lifetime of processing one query, from dispatch
// through synthesis. It is mutated by both pipeline stages and the fallback
// dispatcher, and finalized when the synthesizer returns.
type Session struct {
	ID          string         `json:"id"`
	Query       string         `json:"query"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at,omitempty"`
	Status      Status         `json:"status"`
	Succeeded   []string       `json:"succeeded"`
	Failed      []string       `json:"failed"`
	RateLimited map[string]int `json:"rate_limited"` // backend name -> hit count
	ErrorLog    []ErrorRecord  `json:"error_log"`
}

// Summary is the post-hoc view of what happened during one session.
type Summary struct {
	SessionID     string         `json:"session_id"`
	Query         string         `json:"query"`
	Status        Status         `json:"status"`
	Succeeded     []string       `json:"succeeded"`
	Failed        []string       `json:"failed"`
	RateLimitsHit map[string]int `json:"rate_limits_hit"`
	ErrorCount    int            `json:"error_count"`
	Duration      time.Duration  `json:"duration"`
}
