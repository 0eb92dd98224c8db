// File: cmd/fix.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/internal/observability"
)

// newFixCmd creates the `fix` command, the full detect-fix-verify cycle.
func newFixCmd() *cobra.Command {
	fixCmd := &cobra.Command{
		Use:   "fix [path]",
		Short: "Detects known bug signatures and applies high-confidence fixes",
		Long: `Runs one full remediation pass over the target project: every source file
is scanned, eligible findings are fixed through their registered strategies,
each mutated file is re-verified, and any fix that introduces new findings is
rolled back from its pre-fix snapshot.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("engine.worker_concurrency", cmd.Flags().Lookup("concurrency")); err != nil {
				return err
			}
			if err := viper.BindPFlag("autofix.create_backups", cmd.Flags().Lookup("backups")); err != nil {
				return err
			}
			return viper.BindPFlag("autofix.max_auto_fixes_per_run", cmd.Flags().Lookup("max-fixes"))
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

			session, err := buildSession(logger, cfg, cfg.Scan.Root)
			if err != nil {
				return fmt.Errorf("failed to initialize fix components: %w", err)
			}
			defer session.Stop()

			if err := session.RunOnce(ctx); err != nil {
				return err
			}

			bugStats := session.BugStatistics()
			fixStats := session.FixStatistics()
			logger.Info("Remediation pass complete",
				zap.Int("files", bugStats.TotalScannedFiles),
				zap.Int("findings", bugStats.TotalBugsDetected),
				zap.Int("fix_attempts", fixStats.TotalFixes),
				zap.Int("successful", fixStats.SuccessfulFixes),
			)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d files, %d findings, %d/%d fixes applied (avg confidence %.2f)\n",
				bugStats.TotalScannedFiles, bugStats.TotalBugsDetected,
				fixStats.SuccessfulFixes, fixStats.TotalFixes, fixStats.AverageConfidence)

			for _, report := range session.Regressions() {
				status := "kept"
				if report.RolledBack {
					status = "rolled back"
				}
				fmt.Fprintf(out, "regression in %s: %d new findings after %d fixes (%s)\n",
					report.FilePath, len(report.NewBugs), len(report.FixedIDs), status)
			}

			warnings := session.SecurityWarnings()
			if len(warnings) > 0 {
				fmt.Fprintf(out, "%d security warnings recorded:\n", len(warnings))
				for _, w := range warnings {
					fmt.Fprintf(out, "  [%s] %s: %s\n", w.Type, w.Subject, w.Reason)
				}
			}
			return nil
		},
	}

	fixCmd.Flags().IntP("concurrency", "n", 0, "number of files processed concurrently")
	fixCmd.Flags().Bool("backups", true, "snapshot each file before mutating it")
	fixCmd.Flags().Int("max-fixes", 0, "cap on automatic fixes for this run (0 uses the configured default)")
	return fixCmd
}
