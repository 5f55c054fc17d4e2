package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scour-dev/scour/internal/backoff"
	"github.com/scour-dev/scour/internal/sources"
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Show source and backend availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showResources(cmd.Context())
	},
}

func showResources(ctx context.Context) error {
	fmt.Println("sources:")
	clients := sources.All(func(string) sources.Doer { return nil })
	for _, c := range clients {
		fmt.Printf("  %-14s %s\n", c.Name(), availability(c.Available()))
	}

	fmt.Println("\nbackends:")
	for _, def := range cfg.Backends {
		b, err := buildBackend(def)
		if err != nil {
			return err
		}
		fmt.Printf("  %-14s %s  (model %s)\n", def.Name, availability(b.Available()), def.Model)
	}

	fmt.Println("\nchains:")
	for _, ch := range cfg.Chains {
		fmt.Printf("  %-14s %v\n", ch.Name, ch.Backends)
	}

	// Persisted backoff windows from previous invocations still apply.
	bo := backoff.NewTracker(cfg.Backoff.Cooldown, cfg.Backoff.GrowthFactor, logger)
	if state, err := openBackoffStore().Load(ctx); err == nil {
		bo.Restore(state)
	}
	if active := bo.ActiveBackends(); len(active) > 0 {
		fmt.Println("\nbackends in backoff:")
		for _, name := range active {
			until, _ := bo.Active(name)
			fmt.Printf("  %-14s until %s\n", name, until.Format(time.RFC3339))
		}
	}
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable (credential not configured)"
}
