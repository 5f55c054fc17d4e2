package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scour-dev/scour/internal/config"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available search presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		presets, err := config.ListPresets()
		if err != nil {
			return err
		}
		if len(presets) == 0 {
			fmt.Printf("no presets found in %s\n", config.PresetsDir())
			return nil
		}
		for _, p := range presets {
			fmt.Printf("%-16s %s\n", p.Name, p.Description)
			if len(p.Sources) > 0 {
				fmt.Printf("%-16s sources: %s\n", "", strings.Join(p.Sources, ", "))
			}
			if p.Chain != "" {
				fmt.Printf("%-16s chain: %s\n", "", p.Chain)
			}
		}
		return nil
	},
}
