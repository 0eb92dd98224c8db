// Package fixer owns the per-bug-type fix strategies and applies them to
// live source files. Mutation is always bracketed: sandbox-validated path,
// backup, write, syntax check, then commit or rollback.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/config"
	"github.com/xkilldash9x/stitch-cli/internal/patterns"
)

// ErrStrategyUnavailable marks a bug type with no registered fix strategy.
// Callers treat it as a no-op: the bug stays reportable, never fatal.
var ErrStrategyUnavailable = errors.New("no fix strategy registered")

const (
	errNoApplicableFixes = "no applicable fixes"
	errValidationFailed  = "syntax validation failed - changes rolled back"
)

// suggestionWindow is the ±line range used to associate a generic pattern
// match with the specific reported bug when one file has several matches of
// the same type.
const suggestionWindow = 2

// Engine implements schemas.Fixer.
type Engine struct {
	logger     *zap.Logger
	cfg        config.AutoFixConfig
	backups    schemas.BackupManager
	exec       schemas.Executor
	strategies map[schemas.BugType]Strategy

	mu            sync.Mutex
	history       []schemas.FixResult
	autoApplied   int
	confidenceSum float64 // Over successful fixes, for the average.
}

var _ schemas.Fixer = (*Engine)(nil)

// New wires an Engine with the built-in strategy table.
func New(logger *zap.Logger, cfg config.AutoFixConfig, backups schemas.BackupManager, exec schemas.Executor) *Engine {
	return &Engine{
		logger:     logger.Named("fixer"),
		cfg:        cfg,
		backups:    backups,
		exec:       exec,
		strategies: Strategies(),
	}
}

// AttemptFix applies the strategy for bug.Type to the bug's file, or returns
// a ManualSuggestion when auto-apply is withheld. Exactly one of the first
// two return values is non-nil unless the error is non-nil.
func (e *Engine) AttemptFix(ctx context.Context, bug schemas.DetectedBug) (*schemas.FixResult, *schemas.ManualSuggestion, error) {
	strat, ok := e.strategies[bug.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrStrategyUnavailable, bug.Type)
	}

	// Any file access beyond this point goes through the sanitized path.
	path, err := e.exec.SanitizePath(bug.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("rejecting fix target: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %q: %w", path, err)
	}
	content := string(raw)

	if reason := e.autoApplyWithheld(strat); reason != "" {
		return nil, e.buildSuggestion(strat, bug, content, reason), nil
	}

	newContent, fixes := applyRules(strat, content)
	if len(fixes) == 0 {
		e.releaseSlot()
		res := e.record(schemas.FixResult{
			BugID:      bug.ID,
			BugType:    bug.Type,
			FilePath:   path,
			Strategy:   strat.Name,
			Success:    false,
			Confidence: strat.Confidence,
			Error:      errNoApplicableFixes,
		})
		return &res, nil, nil
	}

	mode := fileMode(path)

	var backupID string
	if e.cfg.CreateBackups {
		reason := fmt.Sprintf("%s/%s/%s", bug.ID, bug.Type, strat.Name)
		backupID, err = e.backups.Create(path, raw, reason)
		if err != nil {
			e.releaseSlot()
			return nil, nil, fmt.Errorf("backup before fix: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(newContent), mode); err != nil {
		e.releaseSlot()
		return nil, nil, fmt.Errorf("writing fix to %q: %w", path, err)
	}

	if err := e.validateSyntax(ctx, path); err != nil {
		e.logger.Warn("Post-fix validation failed, rolling back",
			zap.String("file", path), zap.String("bug_id", bug.ID), zap.Error(err))
		e.releaseSlot()
		if restoreErr := e.rollback(path, backupID, raw, mode); restoreErr != nil {
			return nil, nil, fmt.Errorf("rollback after failed validation: %w", restoreErr)
		}
		res := e.record(schemas.FixResult{
			BugID:      bug.ID,
			BugType:    bug.Type,
			FilePath:   path,
			Strategy:   strat.Name,
			Success:    false,
			Confidence: strat.Confidence,
			BackupID:   backupID,
			Error:      errValidationFailed,
		})
		return &res, nil, nil
	}

	res := e.record(schemas.FixResult{
		BugID:        bug.ID,
		BugType:      bug.Type,
		FilePath:     path,
		Strategy:     strat.Name,
		Success:      true,
		AppliedFixes: fixes,
		Diff:         unifiedDiff(content, newContent),
		Confidence:   strat.Confidence,
		BackupID:     backupID,
	})
	e.logger.Info("Fix applied",
		zap.String("bug_id", bug.ID),
		zap.String("strategy", strat.Name),
		zap.String("file", path),
		zap.Int("applied", len(fixes)),
	)
	return &res, nil, nil
}

// autoApplyWithheld returns a human-readable reason when the strategy may
// not mutate files this run, or "" when auto-apply is permitted. Permission
// reserves a budget slot under the lock, so concurrent attempts cannot
// oversubscribe the cap; failed attempts release it via releaseSlot.
func (e *Engine) autoApplyWithheld(strat Strategy) string {
	if !strat.AutoApply {
		return "strategy is not auto-applicable"
	}
	key := string(strat.BugType)
	if enabled, found := e.cfg.EnabledStrategies[key]; found && !enabled {
		return "strategy disabled by configuration"
	}
	if e.cfg.RequireManualReview[key] {
		return "strategy requires manual review by configuration"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.MaxAutoFixesPerRun > 0 && e.autoApplied >= e.cfg.MaxAutoFixesPerRun {
		return "auto-fix budget for this run exhausted"
	}
	e.autoApplied++
	return ""
}

// releaseSlot returns a reserved budget slot after an attempt that did not
// commit a fix.
func (e *Engine) releaseSlot() {
	e.mu.Lock()
	if e.autoApplied > 0 {
		e.autoApplied--
	}
	e.mu.Unlock()
}

// buildSuggestion runs the strategy's rules over the content without writing
// anything, keeping only matches within ±suggestionWindow lines of the
// reported bug.
func (e *Engine) buildSuggestion(strat Strategy, bug schemas.DetectedBug, content, reason string) *schemas.ManualSuggestion {
	var edits []schemas.SuggestedEdit
	for _, rule := range strat.Rules {
		for _, m := range rule.Pattern.FindAllStringSubmatchIndex(content, -1) {
			line := 1 + strings.Count(content[:m[0]], "\n")
			if line < bug.Line-suggestionWindow || line > bug.Line+suggestionWindow {
				continue
			}
			if strings.Contains(lineContaining(content, m[0]), patterns.SentinelMarker) {
				continue
			}
			edits = append(edits, schemas.SuggestedEdit{
				Line:      line,
				Original:  content[m[0]:m[1]],
				Suggested: string(rule.Pattern.ExpandString(nil, rule.Replacement, content, m)),
			})
		}
	}
	return &schemas.ManualSuggestion{
		BugID:    bug.ID,
		BugType:  bug.Type,
		FilePath: bug.FilePath,
		Strategy: strat.Name,
		Reason:   reason,
		Edits:    edits,
	}
}

// applyRules is the pure transformation core: (content, rules) -> content'.
// It performs no I/O so it is independently unit-testable. Matches on lines
// already carrying the sentinel marker are skipped, which keeps repeated
// application idempotent.
func applyRules(strat Strategy, content string) (string, []schemas.AppliedFix) {
	current := content
	var fixes []schemas.AppliedFix
	for _, rule := range strat.Rules {
		matches := rule.Pattern.FindAllStringSubmatchIndex(current, -1)
		if len(matches) == 0 {
			continue
		}
		var b strings.Builder
		last := 0
		for _, m := range matches {
			if strings.Contains(lineContaining(current, m[0]), patterns.SentinelMarker) {
				continue
			}
			replaced := string(rule.Pattern.ExpandString(nil, rule.Replacement, current, m))
			b.WriteString(current[last:m[0]])
			b.WriteString(replaced)
			fixes = append(fixes, schemas.AppliedFix{
				Original: current[m[0]:m[1]],
				Fixed:    replaced,
				Line:     1 + strings.Count(current[:m[0]], "\n"),
			})
			last = m[1]
		}
		b.WriteString(current[last:])
		current = b.String()
	}
	return current, fixes
}

// validateSyntax runs the language's syntax checker through the sandbox.
// Files without a known checker pass by default; the lexical pipeline does
// not pretend to validate what it cannot parse.
func (e *Engine) validateSyntax(ctx context.Context, path string) error {
	switch filepath.Ext(path) {
	case ".js", ".mjs", ".cjs":
		_, err := e.exec.SafeSpawn(ctx, "node", []string{"--check", path})
		return err
	case ".ts", ".tsx":
		_, err := e.exec.SafeSpawn(ctx, "tsc", []string{"--noEmit", path})
		return err
	default:
		return nil
	}
}

// rollback restores the pre-fix content, via the backup store when one was
// taken, or from the in-memory copy when backups are disabled. Either way
// the file never stays half-written.
func (e *Engine) rollback(path, backupID string, original []byte, mode fs.FileMode) error {
	if backupID != "" {
		return e.backups.Restore(backupID)
	}
	return os.WriteFile(path, original, mode)
}

// record appends to the execution history and returns the stamped result.
// The budget slot for a successful fix was already reserved at check time.
func (e *Engine) record(res schemas.FixResult) schemas.FixResult {
	res.CompletedAt = time.Now()
	e.mu.Lock()
	e.history = append(e.history, res)
	if res.Success {
		e.confidenceSum += res.Confidence
	}
	e.mu.Unlock()
	return res
}

// History returns a copy of the append-only execution history.
func (e *Engine) History() []schemas.FixResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.FixResult, len(e.history))
	copy(out, e.history)
	return out
}

// Statistics summarizes the execution history for triage.
func (e *Engine) Statistics() schemas.FixStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := schemas.FixStatistics{
		TotalFixes:  len(e.history),
		FixesByType: make(map[schemas.BugType]int),
	}
	for _, res := range e.history {
		if res.Success {
			stats.SuccessfulFixes++
			stats.FixesByType[res.BugType]++
		}
	}
	if stats.TotalFixes > 0 {
		stats.SuccessRate = float64(stats.SuccessfulFixes) / float64(stats.TotalFixes)
	}
	if stats.SuccessfulFixes > 0 {
		stats.AverageConfidence = e.confidenceSum / float64(stats.SuccessfulFixes)
	}
	return stats
}

// unifiedDiff renders the mutation as a patch for the FixResult record.
func unifiedDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(before, after))
}

func lineContaining(content string, off int) string {
	start := strings.LastIndexByte(content[:off], '\n') + 1
	end := strings.IndexByte(content[off:], '\n')
	if end < 0 {
		return content[start:]
	}
	return content[start : off+end]
}

func fileMode(path string) fs.FileMode {
	if st, err := os.Stat(path); err == nil {
		return st.Mode().Perm()
	}
	return 0o644
}
