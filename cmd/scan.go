// File: cmd/scan.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/internal/observability"
)

// newScanCmd creates the report-only `scan` command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scans a project for known bug signatures without modifying anything",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
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
			cfg.Scan.Output = viper.GetString("output")

			session, err := buildSession(logger, cfg, cfg.Scan.Root)
			if err != nil {
				return fmt.Errorf("failed to initialize scan components: %w", err)
			}

			bugs, err := session.ScanOnly(ctx)
			if err != nil {
				return err
			}

			stats := session.BugStatistics()
			logger.Info("Scan complete",
				zap.Int("files", stats.TotalScannedFiles),
				zap.Int("findings", stats.TotalBugsDetected),
			)
			for _, bug := range bugs {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %s:%d  %s\n",
					bug.Severity, bug.Type, bug.FilePath, bug.Line, bug.Snippet)
			}

			if cfg.Scan.Output != "" {
				payload := map[string]any{"findings": bugs, "statistics": stats}
				data, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding report: %w", err)
				}
				if err := os.WriteFile(cfg.Scan.Output, data, 0o644); err != nil {
					return fmt.Errorf("writing report to %q: %w", cfg.Scan.Output, err)
				}
				logger.Info("Report written", zap.String("path", cfg.Scan.Output))
			}
			return nil
		},
	}

	scanCmd.Flags().IntP("concurrency", "n", 0, "number of files scanned concurrently")
	scanCmd.Flags().StringP("output", "o", "", "write a JSON report to this path")
	return scanCmd
}
