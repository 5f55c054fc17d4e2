package sources

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Client is a single research source adapter. Lookup performs one query
// against the source and returns whatever the source produced; the caller
// owns the timeout via ctx. A client never retries on its own.
type Client interface {
	// Name returns the stable source name used as the ResultSet key.
	Name() string

	// Available reports whether the source can be queried at all
	// (typically: its credential env var is set). Unavailable sources
	// are skipped without raising an error.
	Available() bool

	// Lookup runs one query. Implementations return a Result with the
	// payload and any deep-dive leads; Source, OK, Error and Latency are
	// filled in by the executor that dispatched the lookup.
	Lookup(ctx context.Context, query string) (*Result, error)
}

// Lead is a concrete identifier found in a Stage-1 payload that is worth a
// follow-up lookup against the same source (a repository, a paper, a
// channel). The client that produced the lead also knows how to phrase the
// follow-up queries in its own query syntax.
type Lead struct {
	Kind      string   `json:"kind"` // "repository", "paper", "channel", ...
	ID        string   `json:"id"`
	Followups []string `json:"followups"`
}

// Result is one completed lookup, Stage-1 or Stage-2. Created when a lookup
// returns and never mutated afterward.
type Result struct {
	Source  string        `json:"source"`
	OK      bool          `json:"ok"`
	Payload string        `json:"payload,omitempty"`
	Leads   []Lead        `json:"leads,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// ResultSet maps source name to its Stage-1 result. Owned exclusively by the
// session that produced it; keys are unique by source name.
type ResultSet map[string]*Result

// Succeeded returns the names of sources whose lookup returned ok.
func (rs ResultSet) Succeeded() []string {
	var names []string
	for name, r := range rs {
		if r.OK {
			names = append(names, name)
		}
	}
	return names
}

// Query is the immutable per-session query: the base string plus an optional
// per-source tailored variant. Produced once at session start; read-only
// afterward.
type Query struct {
	Base     string            `json:"base"`
	Tailored map[string]string `json:"tailored,omitempty"`
}

// For returns the query string to send to the named source: the tailored
// variant if one exists, the base query otherwise.
func (q Query) For(source string) string {
	if s, ok := q.Tailored[source]; ok && s != "" {
		return s
	}
	return q.Base
}

// Doer abstracts *http.Client so source clients can run through the circuit
// breaker HTTP wrapper in production and a plain client in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpStatusErr converts a non-2xx response into a lookup error.
func httpStatusErr(source string, code int) error {
	if code == http.StatusTooManyRequests {
		return fmt.Errorf("%s: rate limited (status %d)", source, code)
	}
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%s: auth failure (status %d)", source, code)
	}
	return fmt.Errorf("%s: unexpected status %d", source, code)
}
