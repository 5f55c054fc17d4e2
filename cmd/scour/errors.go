package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scour-dev/scour/internal/errlog"
	"github.com/scour-dev/scour/internal/store"
)

var (
	errorsJSON  bool
	errorsClear bool
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show or clear recorded session errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if errorsClear {
			return clearErrors(cmd)
		}
		return showErrors(cmd)
	},
}

func init() {
	errorsCmd.Flags().BoolVar(&errorsJSON, "json", false, "emit errors as JSON")
	errorsCmd.Flags().BoolVar(&errorsClear, "clear", false, "delete all recorded errors")
}

func showErrors(cmd *cobra.Command) error {
	// The sqlite history carries session ids; fall back to the JSONL log
	// when the store cannot be opened.
	if history, err := store.Open(filepath.Join(cfg.StateDir, "scour.db"), logger); err == nil {
		defer history.Close()
		recs, err := history.Errors(cmd.Context())
		if err == nil {
			if errorsJSON {
				return json.NewEncoder(os.Stdout).Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Println("no recorded errors")
				return nil
			}
			for _, r := range recs {
				fmt.Printf("%s  [%s] %s: %s (session %s)\n",
					r.Timestamp.Format("2006-01-02 15:04:05"), r.ErrorType, r.Component, r.Message, r.SessionID)
			}
			return nil
		}
		logger.Warn("History store query failed, using log file", zap.Error(err))
	}

	recs, err := errlog.Read(cfg.LogDir)
	if err != nil {
		return err
	}
	if errorsJSON {
		return json.NewEncoder(os.Stdout).Encode(recs)
	}
	if len(recs) == 0 {
		fmt.Println("no recorded errors")
		return nil
	}
	for _, r := range recs {
		fmt.Printf("%s  [%s] %s: %s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.ErrorType, r.Component, r.Message)
	}
	return nil
}

func clearErrors(cmd *cobra.Command) error {
	if err := errlog.Clear(cfg.LogDir); err != nil {
		return err
	}
	if history, err := store.Open(filepath.Join(cfg.StateDir, "scour.db"), logger); err == nil {
		defer history.Close()
		if err := history.ClearErrors(cmd.Context()); err != nil {
			return err
		}
	}
	fmt.Println("errors cleared")
	return nil
}
