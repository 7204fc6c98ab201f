package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	syncmodule "firestore-sync/internal/sync"
	"firestore-sync/internal/sync/config"
)

// runOnce connects the module, calls fn and closes it again. SIGINT cancels
// the run context.
func runOnce(fn func(ctx context.Context, module *syncmodule.SyncModule) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	module, err := syncmodule.NewSyncModule(ctx, cfg, logger.NewLogger())
	if err != nil {
		return err
	}
	defer module.Close(context.Background())
	return fn(ctx, module)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConsolidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate [config-id...]",
		Short: "Run one consolidation for the given configs, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, module *syncmodule.SyncModule) error {
				failed := 0
				if len(args) == 0 {
					for _, result := range module.Consolidation.RunAll(ctx) {
						if result.Err != nil {
							failed++
						}
						if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
							return err
						}
					}
				}
				for _, id := range args {
					result, err := module.Consolidation.RunByID(ctx, id)
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
						continue
					}
					if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d consolidation run(s) failed", failed)
				}
				return nil
			})
		},
	}
}

func newBackfillCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill [config-id...]",
		Short: "Load existing documents into the main tables",
		Long: `Load existing documents of the given configs, or of every config with
backfill enabled, straight into their main tables. Requires MONGODB_URI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(func(ctx context.Context, module *syncmodule.SyncModule) error {
				if len(args) == 0 {
					for _, result := range module.Backfill.RunAll(ctx) {
						if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
							return err
						}
					}
					return nil
				}
				failed := 0
				for _, id := range args {
					result, err := module.Backfill.RunByID(ctx, id)
					if err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					}
					if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d backfill run(s) failed", failed)
				}
				return nil
			})
		},
	}
}

// validationReport is the output of the validate command
type validationReport struct {
	Valid   bool            `json:"valid"`
	Configs []string        `json:"configs"`
	Skipped []skippedConfig `json:"skipped,omitempty"`
}

type skippedConfig struct {
	Type    errors.ErrorType `json:"type,omitempty"`
	Message string           `json:"message"`
}

func newValidateCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Compile the collection configs and report invalid ones",
		Long: `Compile every collection config of the file (SYNC_CONFIG_FILE when no
argument is given) and report the configs that would be skipped at startup.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("SYNC_CONFIG_FILE")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given and SYNC_CONFIG_FILE is not set")
			}
			if format != "text" && format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", format)
			}
			return runValidate(cmd.OutOrStdout(), path, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	return cmd
}

func runValidate(w io.Writer, path, format string) error {
	resolver, skipped, err := syncmodule.CompileCollections(path, logger.NewNopLogger())
	if err != nil {
		return err
	}

	report := validationReport{Valid: len(skipped) == 0, Configs: []string{}}
	for _, cfg := range resolver.Configs() {
		report.Configs = append(report.Configs, cfg.ID)
	}
	for _, err := range skipped {
		report.Skipped = append(report.Skipped, skippedConfig{Type: errors.TypeOf(err), Message: err.Error()})
	}

	if format == "json" {
		if err := writeJSON(w, report); err != nil {
			return err
		}
	} else {
		for _, id := range report.Configs {
			fmt.Fprintf(w, "ok      %s\n", id)
		}
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "skipped %s\n", s.Message)
		}
	}

	if !report.Valid {
		return fmt.Errorf("%d collection config(s) are invalid", len(skipped))
	}
	return nil
}
