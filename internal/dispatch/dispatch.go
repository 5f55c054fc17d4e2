// Package dispatch implements the ordered fallback dispatcher: given a
// prompt and a named chain, try each backend in configured order and return
// the first success. Backends inside a rate-limit cooldown window or without
// credentials are skipped without an attempt. Attempt order is the chain
// order, always; there is no load balancing and backends are never raced.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/backends"
	"github.com/scour-dev/scour/internal/backoff"
	"github.com/scour-dev/scour/internal/errkind"
	"github.com/scour-dev/scour/internal/metrics"
	"github.com/scour-dev/scour/internal/session"
)

// DefaultCallTimeout bounds one backend call when the chain sets none.
const DefaultCallTimeout = 120 * time.Second

// Chain is an ordered backend preference list. Membership and order come
// from configuration and never change at runtime.
type Chain struct {
	Name     string
	Backends []backends.Backend
	Timeout  time.Duration
}

// Attempt records one backend call that was made and failed.
type Attempt struct {
	Backend string
	Kind    errkind.Kind
	Err     error
}

// Skip records one backend that was passed over without a call.
type Skip struct {
	Backend string
	Reason  string
}

// ExhaustedError is returned when every backend in a chain was skipped or
// failed. Its message enumerates all of them.
type ExhaustedError struct {
	Chain    string
	Attempts []Attempt
	Skipped  []Skip
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "chain %q exhausted", e.Chain)
	if len(e.Attempts) > 0 {
		b.WriteString("; attempted: ")
		for i, a := range e.Attempts {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%s: %v)", a.Backend, a.Kind, a.Err)
		}
	}
	if len(e.Skipped) > 0 {
		b.WriteString("; skipped: ")
		for i, s := range e.Skipped {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s (%s)", s.Backend, s.Reason)
		}
	}
	return b.String()
}

// Dispatcher routes prompts through configured chains, consulting the
// shared backoff tracker before every attempt. The tracker outlives any one
// session; a backend penalized during one query stays penalized for the
// next.
type Dispatcher struct {
	chains  map[string]Chain
	backoff *backoff.Tracker
	tracker *session.Tracker
	logger  *zap.Logger
}

// New builds a dispatcher over the given chains.
func New(chains []Chain, bo *backoff.Tracker, tr *session.Tracker, logger *zap.Logger) (*Dispatcher, error) {
	if len(chains) == 0 {
		return nil, errors.New("no chains configured")
	}
	byName := make(map[string]Chain, len(chains))
	for _, c := range chains {
		if c.Name == "" {
			return nil, errors.New("chain with empty name")
		}
		if len(c.Backends) == 0 {
			return nil, fmt.Errorf("chain %q has no backends", c.Name)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate chain %q", c.Name)
		}
		byName[c.Name] = c
	}
	return &Dispatcher{
		chains:  byName,
		backoff: bo,
		tracker: tr,
		logger:  logger,
	}, nil
}

// Chains returns the configured chain names.
func (d *Dispatcher) Chains() []string {
	names := make([]string, 0, len(d.chains))
	for name := range d.chains {
		names = append(names, name)
	}
	return names
}

// Backends returns the chain's backends in dispatch order.
func (d *Dispatcher) Backends(chainName string) []backends.Backend {
	return d.chains[chainName].Backends
}

// Dispatch tries the named chain's backends in order and returns the name
// of the backend that answered plus its text. First success wins. A failure
// is classified, recorded against the session and the next backend is
// tried; only a rate limit arms backoff. When every backend was skipped or
// failed the returned error is an *ExhaustedError.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, chainName, prompt string) (string, string, error) {
	chain, ok := d.chains[chainName]
	if !ok {
		return "", "", fmt.Errorf("unknown chain %q", chainName)
	}
	timeout := chain.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	exhausted := &ExhaustedError{Chain: chainName}
	for _, b := range chain.Backends {
		name := b.Name()

		if until, active := d.backoff.Active(name); active {
			d.logger.Debug("Skipping backend in backoff",
				zap.String("backend", name),
				zap.Time("until", until),
			)
			metrics.BackendSkips.WithLabelValues(name, chainName, "backoff").Inc()
			exhausted.Skipped = append(exhausted.Skipped, Skip{
				Backend: name,
				Reason:  fmt.Sprintf("in backoff until %s", until.Format(time.RFC3339)),
			})
			continue
		}

		if !b.Available() {
			metrics.BackendSkips.WithLabelValues(name, chainName, "unavailable").Inc()
			exhausted.Skipped = append(exhausted.Skipped, Skip{
				Backend: name,
				Reason:  "unavailable: credential not configured",
			})
			continue
		}

		text, elapsed, err := d.call(ctx, b, prompt, timeout)
		if err == nil {
			d.record(sessionID, name, true, "", "")
			metrics.RecordBackendAttempt(name, chainName, "ok", elapsed.Seconds())
			return name, text, nil
		}

		kind := errkind.Classify(err)
		d.logger.Warn("Backend call failed",
			zap.String("backend", name),
			zap.String("chain", chainName),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
		metrics.RecordBackendAttempt(name, chainName, "error", elapsed.Seconds())

		// A rate limit is tracked in the session's per-backend hit counts
		// and arms backoff; every other failure is a plain outcome record.
		if kind == errkind.RateLimited {
			d.backoff.Hit(name)
			d.recordRateLimit(sessionID, name, err)
		} else {
			d.record(sessionID, name, false, kind.String(), err.Error())
		}
		exhausted.Attempts = append(exhausted.Attempts, Attempt{Backend: name, Kind: kind, Err: err})
	}

	metrics.DispatchExhausted.WithLabelValues(chainName).Inc()
	return "", "", exhausted
}

func (d *Dispatcher) call(ctx context.Context, b backends.Backend, prompt string, timeout time.Duration) (string, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, err := b.Call(callCtx, prompt)
	return text, time.Since(start), err
}

func (d *Dispatcher) record(sessionID, backend string, ok bool, errorType, message string) {
	if d.tracker == nil || sessionID == "" {
		return
	}
	if err := d.tracker.RecordOutcome(sessionID, "backend:"+backend, ok, errorType, message); err != nil {
		d.logger.Debug("Failed to record backend outcome", zap.Error(err))
	}
}

func (d *Dispatcher) recordRateLimit(sessionID, backend string, err error) {
	if d.tracker == nil || sessionID == "" {
		return
	}
	var retryAfter time.Duration
	var rle *backends.RateLimitError
	if errors.As(err, &rle) {
		retryAfter = rle.RetryAfter
	}
	if err := d.tracker.RecordRateLimit(sessionID, backend, retryAfter); err != nil {
		d.logger.Debug("Failed to record rate limit", zap.Error(err))
	}
}
