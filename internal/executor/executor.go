// Package executor runs the two search stages: a bounded fan-out across all
// configured sources, then sequential-per-source deep dives on the leads the
// first stage surfaced.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scour-dev/scour/internal/errkind"
	"github.com/scour-dev/scour/internal/session"
	"github.com/scour-dev/scour/internal/sources"
	"github.com/scour-dev/scour/internal/tracing"
)

// Config holds executor tuning knobs.
type Config struct {
	Workers          int           // Stage-1 worker pool width
	LookupTimeout    time.Duration // per-lookup timeout, both stages
	MaxFollowups     int           // cap on Stage-2 lookups per source
	FollowupInterval time.Duration // minimum spacing between Stage-2 lookups against one source
	SkipDives        []string      // sources whose leads are never followed up
}

// DefaultConfig returns the executor defaults: 8 concurrent lookups no
// matter how many sources are configured, tens of seconds per lookup.
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		LookupTimeout:    30 * time.Second,
		MaxFollowups:     2,
		FollowupInterval: 500 * time.Millisecond,
	}
}

// Executor dispatches lookups against a fixed set of source clients and
// reports every completion into the session tracker.
type Executor struct {
	clients []sources.Client
	tracker *session.Tracker
	logger  *zap.Logger
	config  Config
}

// New creates an executor over the given clients.
func New(clients []sources.Client, tracker *session.Tracker, config Config, logger *zap.Logger) *Executor {
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.LookupTimeout <= 0 {
		config.LookupTimeout = DefaultConfig().LookupTimeout
	}
	if config.MaxFollowups <= 0 {
		config.MaxFollowups = DefaultConfig().MaxFollowups
	}
	return &Executor{
		clients: clients,
		tracker: tracker,
		logger:  logger,
		config:  config,
	}
}

// lookup runs one bounded lookup and converts the outcome into an immutable
// Result. It never returns an error; failures become ok=false results.
func (e *Executor) lookup(ctx context.Context, client sources.Client, query string) *sources.Result {
	lookupCtx, cancel := context.WithTimeout(ctx, e.config.LookupTimeout)
	defer cancel()
	lookupCtx, span := tracing.StartLookup(lookupCtx, client.Name())
	defer span.End()

	start := time.Now()
	res, err := client.Lookup(lookupCtx, query)
	latency := time.Since(start)

	if err != nil {
		return &sources.Result{
			Source:  client.Name(),
			OK:      false,
			Error:   err.Error(),
			Latency: latency,
		}
	}

	res.Source = client.Name()
	res.OK = true
	res.Latency = latency
	return res
}

// record reports one completed lookup into the session tracker, exactly once
// per lookup.
func (e *Executor) record(sessionID, component string, res *sources.Result) {
	if res.OK {
		_ = e.tracker.RecordOutcome(sessionID, component, true, "", "")
		return
	}
	kind := errkind.Classify(resultErr(res))
	_ = e.tracker.RecordOutcome(sessionID, component, false, kind.String(), res.Error)
}

// resultErr rebuilds an error value from a failed result for classification.
func resultErr(res *sources.Result) error {
	if res.Error == "" {
		return nil
	}
	return &lookupError{msg: res.Error}
}

type lookupError struct{ msg string }

func (e *lookupError) Error() string { return e.msg }

// followupLimiter paces sequential Stage-2 lookups against a single source.
func (e *Executor) followupLimiter() *rate.Limiter {
	if e.config.FollowupInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.config.FollowupInterval), 1)
}
