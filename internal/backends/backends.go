// Package backends holds the completion backend adapters the fallback
// dispatcher tries in chain order. Each adapter wraps one provider's HTTP
// API behind the same three-method surface; the concrete set is built once
// at process start from configuration and never changes afterward.
package backends

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/scour-dev/scour/internal/errkind"
)

// Backend is one interchangeable completion service.
type Backend interface {
	// Name returns the stable backend name used in chains, backoff state
	// and session records.
	Name() string

	// Available reports whether the backend can be called at all. A
	// missing credential makes this false without raising an error.
	Available() bool

	// Call sends one prompt and returns the completion text. The caller
	// owns the timeout via ctx. Implementations never retry.
	Call(ctx context.Context, prompt string) (string, error)
}

// RateLimitError wraps a 429 from a provider, keeping the server's
// Retry-After hint when one was sent.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s)", e.Backend, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Backend)
}

func (e *RateLimitError) Unwrap() error { return errkind.ErrRateLimited }

// statusErr maps a non-2xx completion response to the error taxonomy.
func statusErr(backend string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{Backend: backend, RetryAfter: retryAfter}
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", backend, errkind.ErrAuthFailure, resp.StatusCode)
	default:
		return fmt.Errorf("%s: unexpected status %d", backend, resp.StatusCode)
	}
}

// emptyErr flags a 200 whose body carried no usable text.
func emptyErr(backend string) error {
	return fmt.Errorf("%s: %w", backend, errkind.ErrEmptyResponse)
}

// Doer abstracts *http.Client so backends can run through the circuit
// breaker HTTP wrapper in production and a plain client in tests. Inject
// one with the WithClient method on each backend.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// envOr reads an environment variable with a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
