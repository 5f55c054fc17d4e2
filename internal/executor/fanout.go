package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/metrics"
	"github.com/scour-dev/scour/internal/sources"
)

// FanOut dispatches one lookup per configured source through a fixed-size
// worker pool and blocks until the last one returns. The returned ResultSet
// always contains exactly one entry per source: failures and unavailable
// sources appear as ok=false results, never as missing keys. Total latency
// is bounded by the slowest single lookup, not the sum.
func (e *Executor) FanOut(ctx context.Context, sessionID string, query sources.Query) sources.ResultSet {
	start := time.Now()
	n := len(e.clients)

	jobs := make(chan sources.Client)
	results := make(chan *sources.Result, n)

	workers := e.config.Workers
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for client := range jobs {
				results <- e.runStage1(ctx, sessionID, client, query)
			}
		}()
	}

	for _, client := range e.clients {
		jobs <- client
	}
	close(jobs)
	wg.Wait()
	close(results)

	rs := make(sources.ResultSet, n)
	for res := range results {
		rs[res.Source] = res
	}

	e.logger.Info("Stage-1 fan-out complete",
		zap.String("session_id", sessionID),
		zap.Int("sources", n),
		zap.Int("succeeded", len(rs.Succeeded())),
		zap.Duration("duration", time.Since(start)),
	)
	return rs
}

// runStage1 performs one Stage-1 lookup, including the availability check,
// and records the outcome exactly once.
func (e *Executor) runStage1(ctx context.Context, sessionID string, client sources.Client, query sources.Query) *sources.Result {
	name := client.Name()

	if !client.Available() {
		res := &sources.Result{
			Source: name,
			OK:     false,
			Error:  "source unavailable: credential not configured",
		}
		e.record(sessionID, name, res)
		metrics.LookupsDispatched.WithLabelValues(name, "stage1").Inc()
		return res
	}

	res := e.lookup(ctx, client, query.For(name))
	e.record(sessionID, name, res)
	metrics.RecordLookup(name, "stage1", res.Latency.Seconds())

	if !res.OK {
		e.logger.Warn("Stage-1 lookup failed",
			zap.String("session_id", sessionID),
			zap.String("source", name),
			zap.String("error", res.Error),
			zap.Duration("latency", res.Latency),
		)
	}
	return res
}
