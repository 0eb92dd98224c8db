// File: internal/controller/reports.go
package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

// Posting to the memory service is best-effort everywhere: the sink logs its
// own failures and the workflow never blocks on them.

func (s *Session) postBugReport(ctx context.Context, bug schemas.DetectedBug) {
	_ = s.sink.SaveRecord(ctx, schemas.Record{
		Content: fmt.Sprintf("Detected %s (%s) at %s:%d: %s",
			bug.Type, bug.Severity, bug.FilePath, bug.Line, bug.Snippet),
		Metadata: schemas.RecordMetadata{
			Type:     schemas.RecordBugReport,
			FilePath: bug.FilePath,
			Extra: map[string]any{
				"bug_id":   bug.ID,
				"bug_type": string(bug.Type),
				"severity": string(bug.Severity),
				"line":     bug.Line,
			},
		},
	})
}

func (s *Session) postSuggestion(ctx context.Context, sugg *schemas.ManualSuggestion) {
	_ = s.sink.SaveRecord(ctx, schemas.Record{
		Content: fmt.Sprintf("Suggested %d edit(s) for %s in %s (%s)",
			len(sugg.Edits), sugg.BugType, sugg.FilePath, sugg.Reason),
		Metadata: schemas.RecordMetadata{
			Type:     schemas.RecordFixSuggestion,
			FilePath: sugg.FilePath,
			Extra: map[string]any{
				"bug_id":   sugg.BugID,
				"strategy": sugg.Strategy,
				"edits":    sugg.Edits,
			},
		},
	})
}

func (s *Session) postFixResult(ctx context.Context, res *schemas.FixResult) {
	_ = s.sink.SaveRecord(ctx, schemas.Record{
		Content: fmt.Sprintf("Auto-fixed %s in %s with %s (%d change(s), confidence %.2f)",
			res.BugType, res.FilePath, res.Strategy, len(res.AppliedFixes), res.Confidence),
		Metadata: schemas.RecordMetadata{
			Type:     schemas.RecordAutoFixResult,
			FilePath: res.FilePath,
			Extra: map[string]any{
				"bug_id":    res.BugID,
				"strategy":  res.Strategy,
				"backup_id": res.BackupID,
				"diff":      res.Diff,
			},
		},
	})
}

func (s *Session) postRegression(ctx context.Context, report RegressionReport) {
	_ = s.sink.SaveRecord(ctx, schemas.Record{
		Content: fmt.Sprintf("Regression in %s: %d new bug(s) after fixing %d (rolled back: %v)",
			report.FilePath, len(report.NewBugs), len(report.FixedIDs), report.RolledBack),
		Metadata: schemas.RecordMetadata{
			Type:     schemas.RecordRegressionReport,
			FilePath: report.FilePath,
			Extra: map[string]any{
				"fixed_ids":   report.FixedIDs,
				"new_bugs":    report.NewBugs,
				"rolled_back": report.RolledBack,
			},
		},
	})
}

func (s *Session) postSummary(ctx context.Context) {
	bugStats := s.detector.Statistics()
	fixStats := s.fixer.Statistics()
	s.logger.Info("Scan pass complete",
		zap.Int("scanned_files", bugStats.TotalScannedFiles),
		zap.Int("bugs_detected", bugStats.TotalBugsDetected),
		zap.Int("fixes_applied", fixStats.SuccessfulFixes),
	)
	_ = s.sink.SaveRecord(ctx, schemas.Record{
		Content: fmt.Sprintf("Session pass: %d files scanned, %d bugs, %d fixes applied (%.0f%% success)",
			bugStats.TotalScannedFiles, bugStats.TotalBugsDetected,
			fixStats.SuccessfulFixes, fixStats.SuccessRate*100),
		Metadata: schemas.RecordMetadata{
			Type: schemas.RecordAutoFixResult,
			Extra: map[string]any{
				"bug_statistics": bugStats,
				"fix_statistics": fixStats,
			},
		},
	})
}
