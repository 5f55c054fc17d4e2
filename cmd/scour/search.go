package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/backends"
	"github.com/scour-dev/scour/internal/backoff"
	"github.com/scour-dev/scour/internal/circuitbreaker"
	"github.com/scour-dev/scour/internal/config"
	"github.com/scour-dev/scour/internal/dispatch"
	"github.com/scour-dev/scour/internal/errlog"
	"github.com/scour-dev/scour/internal/executor"
	"github.com/scour-dev/scour/internal/pipeline"
	"github.com/scour-dev/scour/internal/report"
	"github.com/scour-dev/scour/internal/session"
	"github.com/scour-dev/scour/internal/sources"
	"github.com/scour-dev/scour/internal/store"
	"github.com/scour-dev/scour/internal/tracing"
)

var (
	presetName    string
	noTailor      bool
	noGithubSkill bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one research session",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().StringVar(&presetName, "preset", "", "search preset to apply")
	searchCmd.Flags().BoolVar(&noTailor, "no-tailor", false, "send the base query to every source unmodified")
	searchCmd.Flags().BoolVar(&noGithubSkill, "no-github-skill", false, "do not follow up on code host leads")
}

func runSearch(ctx context.Context, queryText string) error {
	shutdownTracing, err := tracing.Initialize(cfg.Tracing.Enabled, cfg.Tracing.Endpoint, logger)
	if err != nil {
		logger.Warn("Tracing init failed", zap.Error(err))
	} else {
		defer shutdownTracing(context.Background())
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port)
	}

	var preset *config.Preset
	if presetName != "" {
		preset, err = config.LoadPreset(presetName)
		if err != nil {
			return err
		}
	}

	query := sources.Query{Base: queryText}
	if preset != nil && !noTailor {
		query.Tailored = preset.TailorFor(queryText)
	}

	sink, err := errlog.Open(cfg.LogDir)
	if err != nil {
		return err
	}
	defer sink.Close()

	tracker := session.NewTracker(logger, sink)

	clients := sources.All(func(name string) sources.Doer {
		return circuitbreaker.NewHTTPClient(nil, name, logger)
	})
	if preset != nil {
		clients = sources.Filter(clients, preset.Sources)
	}

	execCfg := executor.Config{
		Workers:          cfg.Executor.Workers,
		LookupTimeout:    cfg.Executor.LookupTimeout,
		MaxFollowups:     cfg.Executor.MaxFollowups,
		FollowupInterval: cfg.Executor.FollowupInterval,
	}
	if noGithubSkill {
		execCfg.SkipDives = append(execCfg.SkipDives, "code-host")
	}
	exec := executor.New(clients, tracker, execCfg, logger)

	bo := backoff.NewTracker(cfg.Backoff.Cooldown, cfg.Backoff.GrowthFactor, logger)
	boStore := openBackoffStore()
	if state, err := boStore.Load(ctx); err == nil {
		bo.Restore(state)
	} else {
		logger.Warn("Failed to load backoff state", zap.Error(err))
	}
	defer func() {
		if err := boStore.Save(context.Background(), bo.Snapshot()); err != nil {
			logger.Warn("Failed to save backoff state", zap.Error(err))
		}
	}()

	dispatcher, err := buildDispatcher(bo, tracker)
	if err != nil {
		return err
	}

	synthChain := report.SynthesisChain
	if preset != nil && preset.Chain != "" {
		synthChain = preset.Chain
	}
	synth := report.NewSynthesizer(dispatcher, logger, synthChain)

	history, err := store.Open(filepath.Join(cfg.StateDir, "scour.db"), logger)
	if err != nil {
		logger.Warn("History store unavailable", zap.Error(err))
		history = nil
	} else {
		defer history.Close()
	}

	p := pipeline.New(exec, synth, tracker, history, cfg.Session.Timeout, logger)
	rep, summary, err := p.Run(ctx, query)
	if err != nil {
		return err
	}

	fmt.Println(rep.Body)
	fmt.Printf("\n--- session %s: %s | %d succeeded, %d failed, %d errors ---\n",
		summary.SessionID, summary.Status, len(summary.Succeeded), len(summary.Failed), summary.ErrorCount)

	if summary.Status != session.StatusCompleted {
		return fmt.Errorf("session ended %s", summary.Status)
	}
	return nil
}

// buildDispatcher resolves the configured chains over one shared backend
// pool.
func buildDispatcher(bo *backoff.Tracker, tracker *session.Tracker) (*dispatch.Dispatcher, error) {
	pool := make(map[string]backends.Backend, len(cfg.Backends))
	for _, def := range cfg.Backends {
		b, err := buildBackend(def)
		if err != nil {
			return nil, err
		}
		pool[def.Name] = b
	}

	chains := make([]dispatch.Chain, 0, len(cfg.Chains))
	for _, def := range cfg.Chains {
		chain := dispatch.Chain{Name: def.Name, Timeout: def.Timeout}
		for _, name := range def.Backends {
			chain.Backends = append(chain.Backends, pool[name])
		}
		chains = append(chains, chain)
	}
	return dispatch.New(chains, bo, tracker, logger)
}

func buildBackend(def config.BackendDef) (backends.Backend, error) {
	client := circuitbreaker.NewHTTPClient(nil, def.Name, logger)
	switch def.Name {
	case "anthropic":
		return backends.NewAnthropic(def.Model).WithClient(client), nil
	case "openai":
		return backends.NewOpenAI(def.Model).WithClient(client), nil
	case "gemini":
		return backends.NewGemini(def.Model).WithClient(client), nil
	case "deepseek":
		return backends.NewDeepSeek(def.Model).WithClient(client), nil
	case "ollama":
		return backends.NewOllama(def.Model).WithClient(client), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", def.Name)
	}
}

func openBackoffStore() backoff.Store {
	if cfg.Backoff.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Backoff.RedisAddr})
		return backoff.NewRedisStore(client, cfg.Backoff.Cooldown)
	}
	path := cfg.Backoff.StateFile
	if path == "" {
		path = filepath.Join(config.Dir(), "backoff.json")
	}
	return backoff.NewFileStore(path)
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("Metrics server failed", zap.Error(err))
	}
}
