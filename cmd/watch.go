// File: cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/stitch-cli/internal/observability"
)

// newWatchCmd creates the `watch` command, continuous real-time remediation.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Continuously remediates a project as files change",
		Long: `Performs one full remediation pass, then watches the project tree and
re-runs the detect-fix-verify cycle for each source file as it changes.
Runs until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appConfig
			if err := viper.Unmarshal(cfg); err != nil {
				return fmt.Errorf("failed to re-unmarshal config with flag overrides: %w", err)
			}
			if _, err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flag overrides: %w", err)
			}
			cfg.Scan.Root = "."
			if len(args) > 0 {
				cfg.Scan.Root = args[0]
			}
			cfg.Scan.Watch = true

			session, err := buildSession(logger, cfg, cfg.Scan.Root)
			if err != nil {
				return fmt.Errorf("failed to initialize watch components: %w", err)
			}

			err = session.Watch(ctx)
			session.Stop()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			stats := session.FixStatistics()
			fmt.Fprintf(cmd.OutOrStdout(), "Watch ended: %d/%d fixes applied this session\n",
				stats.SuccessfulFixes, stats.TotalFixes)
			return nil
		},
	}

	watchCmd.Flags().IntP("concurrency", "n", 0, "number of files processed concurrently")
	return watchCmd
}
