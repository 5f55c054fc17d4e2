// Package pipeline runs one query end to end: session start, Stage-1
// fan-out, Stage-2 deep dives, synthesis, session end. Stage failures
// degrade the report; the only error Run returns before producing a report
// is a blank query.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/executor"
	"github.com/scour-dev/scour/internal/report"
	"github.com/scour-dev/scour/internal/session"
	"github.com/scour-dev/scour/internal/sources"
	"github.com/scour-dev/scour/internal/store"
	"github.com/scour-dev/scour/internal/tracing"
)

// Pipeline owns one wired set of components. Built once at startup; Run may
// be called for any number of sessions.
type Pipeline struct {
	executor    *executor.Executor
	synthesizer *report.Synthesizer
	tracker     *session.Tracker
	history     *store.Store // optional
	logger      *zap.Logger
	timeout     time.Duration
}

// New assembles a pipeline. history may be nil.
func New(exec *executor.Executor, synth *report.Synthesizer, tracker *session.Tracker, history *store.Store, timeout time.Duration, logger *zap.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Pipeline{
		executor:    exec,
		synthesizer: synth,
		tracker:     tracker,
		history:     history,
		logger:      logger,
		timeout:     timeout,
	}
}

// Run executes one session. The session-level timeout cancels outstanding
// lookups and skips synthesis; whatever results completed before the
// deadline still produce a partial report. The session ends "completed"
// when at least one source succeeded, regardless of synthesis.
func (p *Pipeline) Run(ctx context.Context, query sources.Query) (*report.Report, *session.Summary, error) {
	sessionID, err := p.tracker.Start(query.Base)
	if err != nil {
		return nil, nil, err
	}

	ctx, span := tracing.StartSession(ctx, sessionID, query.Base)
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stageCtx, stageSpan := tracing.StartStage(runCtx, "stage1")
	stage1 := p.executor.FanOut(stageCtx, sessionID, query)
	stageSpan.End()

	var stage2 []*sources.Result
	if runCtx.Err() == nil {
		stageCtx, stageSpan = tracing.StartStage(runCtx, "stage2")
		stage2 = p.executor.DeepDive(stageCtx, sessionID, stage1)
		stageSpan.End()
	}

	var rep *report.Report
	if runCtx.Err() != nil {
		p.logger.Warn("Session deadline hit, producing partial report",
			zap.String("session_id", sessionID),
		)
		rep = &report.Report{
			SessionID:   sessionID,
			Query:       query.Base,
			Partial:     true,
			Body:        "NOTE: session timed out; findings below are partial and unsynthesized.\n\n" + p.synthesizer.Draft(query.Base, stage1, stage2),
			GeneratedAt: time.Now(),
		}
	} else {
		stageCtx, stageSpan = tracing.StartStage(ctx, "synthesis")
		rep = p.synthesizer.Synthesize(stageCtx, sessionID, query.Base, stage1, stage2)
		stageSpan.End()
	}

	status := session.StatusCompleted
	if len(stage1.Succeeded()) == 0 {
		status = session.StatusFailed
	}
	if err := p.tracker.End(sessionID, status); err != nil {
		p.logger.Warn("Failed to end session", zap.Error(err))
	}

	p.persist(ctx, sessionID)

	summary, err := p.tracker.Summary(sessionID)
	if err != nil {
		return rep, nil, err
	}
	return rep, summary, nil
}

func (p *Pipeline) persist(ctx context.Context, sessionID string) {
	if p.history == nil {
		return
	}
	snap, err := p.tracker.Snapshot(sessionID)
	if err != nil {
		p.logger.Warn("Failed to snapshot session", zap.Error(err))
		return
	}
	// Persistence gets its own deadline; the session ctx may already be
	// expired on the partial-report path.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.history.SaveSession(saveCtx, snap); err != nil {
		p.logger.Warn("Failed to persist session", zap.Error(err))
	}
}
