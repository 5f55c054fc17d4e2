package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scour-dev/scour/internal/metrics"
	"github.com/scour-dev/scour/internal/sources"
)

// DeepDive inspects the Stage-1 result set and, for every source that
// surfaced a concrete lead, issues follow-up lookups against that same
// source. Follow-ups for one source run sequentially to bound load on a
// single backend; different sources proceed independently. Failures are
// recorded like Stage-1 failures and never abort the pipeline.
func (e *Executor) DeepDive(ctx context.Context, sessionID string, rs sources.ResultSet) []*sources.Result {
	start := time.Now()

	byName := make(map[string]sources.Client, len(e.clients))
	for _, c := range e.clients {
		byName[c.Name()] = c
	}

	var mu sync.Mutex
	var all []*sources.Result

	var g errgroup.Group

	skip := make(map[string]bool, len(e.config.SkipDives))
	for _, name := range e.config.SkipDives {
		skip[name] = true
	}

	for name, res := range rs {
		if skip[name] {
			continue
		}
		followups := qualifyingFollowups(res, e.config.MaxFollowups)
		if len(followups) == 0 {
			continue
		}
		client, found := byName[name]
		if !found {
			continue
		}

		for _, lead := range res.Leads {
			metrics.DeepDivesScheduled.WithLabelValues(name, lead.Kind).Inc()
		}

		g.Go(func() error {
			limiter := e.followupLimiter()
			for _, followup := range followups {
				if err := limiter.Wait(ctx); err != nil {
					return nil // session deadline hit; stop quietly
				}
				dive := e.lookup(ctx, client, followup)
				e.record(sessionID, "stage2:"+client.Name(), dive)
				metrics.RecordLookup(client.Name(), "stage2", dive.Latency.Seconds())

				mu.Lock()
				all = append(all, dive)
				mu.Unlock()

				if !dive.OK {
					e.logger.Warn("Deep-dive lookup failed",
						zap.String("session_id", sessionID),
						zap.String("source", client.Name()),
						zap.String("query", followup),
						zap.String("error", dive.Error),
					)
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	e.logger.Info("Stage-2 deep dive complete",
		zap.String("session_id", sessionID),
		zap.Int("lookups", len(all)),
		zap.Duration("duration", time.Since(start)),
	)
	return all
}

// qualifyingFollowups applies the per-source lead predicate: only a
// successful Stage-1 result carrying at least one concrete lead yields
// follow-up queries, capped at max.
func qualifyingFollowups(res *sources.Result, max int) []string {
	if res == nil || !res.OK || len(res.Leads) == 0 {
		return nil
	}
	var followups []string
	for _, lead := range res.Leads {
		if lead.ID == "" {
			continue
		}
		followups = append(followups, lead.Followups...)
	}
	if len(followups) > max {
		followups = followups[:max]
	}
	return followups
}
