package fixer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/backup"
	"github.com/xkilldash9x/stitch-cli/internal/config"
	"github.com/xkilldash9x/stitch-cli/internal/detector"
)

// stubExec satisfies schemas.Executor without spawning anything. Paths pass
// through untouched; syntax checks succeed unless failValidation is set.
type stubExec struct {
	mu             sync.Mutex
	failValidation bool
	rejectPaths    bool
	spawned        [][]string
}

func (s *stubExec) SanitizePath(p string) (string, error) {
	if s.rejectPaths {
		return "", errors.New("path traversal rejected")
	}
	return p, nil
}

func (s *stubExec) SafeSpawn(_ context.Context, command string, args []string) (*schemas.SpawnResult, error) {
	s.mu.Lock()
	s.spawned = append(s.spawned, append([]string{command}, args...))
	s.mu.Unlock()
	if s.failValidation {
		return &schemas.SpawnResult{ExitCode: 1}, fmt.Errorf("command %q failed", command)
	}
	return &schemas.SpawnResult{ExitCode: 0}, nil
}

func (s *stubExec) Warnings() []schemas.SecurityWarning { return nil }

func newTestEngine(t *testing.T, cfg config.AutoFixConfig, exec *stubExec) (*Engine, schemas.BackupManager) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	backups, err := backup.NewManager(logger, config.RollbackConfig{
		Dir:            filepath.Join(t.TempDir(), "backups"),
		MaxBackupFiles: 10,
	})
	require.NoError(t, err)
	return New(logger, cfg, backups, exec), backups
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func leakBug(path string) schemas.DetectedBug {
	return schemas.DetectedBug{
		ID:       detector.BugID(schemas.BugMemoryLeak, path, "setInterval(tick, 1000);"),
		Type:     schemas.BugMemoryLeak,
		Severity: schemas.SeverityHigh,
		FilePath: path,
		Line:     1,
		Snippet:  "setInterval(tick, 1000);",
	}
}

func TestAttemptFixAppliesAndBacksUp(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, backups := newTestEngine(t, config.AutoFixConfig{CreateBackups: true, MaxAutoFixesPerRun: 10}, exec)

	original := "setInterval(tick, 1000);\n"
	path := writeSource(t, "app.js", original)

	res, sugg, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	require.Nil(t, sugg)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.BackupID)
	assert.NotEmpty(t, res.Diff)
	require.Len(t, res.AppliedFixes, 1)
	assert.Equal(t, 1, res.AppliedFixes[0].Line)

	mutated, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(mutated), "clearInterval on teardown")

	// Syntax validation ran through the sandbox.
	require.Len(t, exec.spawned, 1)
	assert.Equal(t, []string{"node", "--check", path}, exec.spawned[0])

	// The snapshot holds the pre-fix content.
	require.NoError(t, backups.Restore(res.BackupID))
	restored, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(restored))
}

func TestAttemptFixZeroMatchesIsFailureWithoutBackup(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, backups := newTestEngine(t, config.AutoFixConfig{CreateBackups: true, MaxAutoFixesPerRun: 10}, exec)

	original := "console.log('clean file');\n"
	path := writeSource(t, "app.js", original)

	res, sugg, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	require.Nil(t, sugg)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "no applicable fixes", res.Error)
	assert.Empty(t, res.BackupID)
	assert.Empty(t, backups.List(), "failed attempt must not leave a snapshot")

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(content), "file must be untouched")
}

func TestAttemptFixIdempotent(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 10}, exec)

	path := writeSource(t, "app.js", "setInterval(tick, 1000);\n")

	res1, _, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	require.True(t, res1.Success)

	once, err := os.ReadFile(path)
	require.NoError(t, err)

	// A second pass finds only the already-annotated line and changes nothing.
	res2, _, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	assert.False(t, res2.Success)
	assert.Equal(t, "no applicable fixes", res2.Error)

	twice, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

func TestAttemptFixValidationFailureRollsBack(t *testing.T) {
	t.Parallel()
	exec := &stubExec{failValidation: true}
	engine, _ := newTestEngine(t, config.AutoFixConfig{CreateBackups: true, MaxAutoFixesPerRun: 10}, exec)

	original := "setInterval(tick, 1000);\n"
	path := writeSource(t, "app.js", original)

	res, sugg, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	require.Nil(t, sugg)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rolled back")

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(content), "failed validation must restore the original")
}

func TestAttemptFixValidationFailureRollsBackWithoutBackups(t *testing.T) {
	t.Parallel()
	exec := &stubExec{failValidation: true}
	engine, _ := newTestEngine(t, config.AutoFixConfig{CreateBackups: false, MaxAutoFixesPerRun: 10}, exec)

	original := "setInterval(tick, 1000);\n"
	path := writeSource(t, "app.js", original)

	res, _, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Empty(t, res.BackupID)

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(content), "in-memory rollback must restore the original")
}

func TestAttemptFixNoStrategy(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 10}, exec)

	bug := leakBug("app.js")
	bug.Type = schemas.BugType("unknown_kind")
	_, _, err := engine.AttemptFix(context.Background(), bug)
	assert.ErrorIs(t, err, ErrStrategyUnavailable)
}

func TestAttemptFixManualStrategyReturnsSuggestion(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 10}, exec)

	original := `db.query("SELECT * FROM users WHERE id = " + id);` + "\n"
	path := writeSource(t, "app.js", original)
	bug := schemas.DetectedBug{
		ID:       "bug-1",
		Type:     schemas.BugSQLInjection,
		Severity: schemas.SeverityCritical,
		FilePath: path,
		Line:     1,
	}

	res, sugg, err := engine.AttemptFix(context.Background(), bug)
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, sugg)
	assert.Equal(t, "parameterize-query", sugg.Strategy)
	assert.NotEmpty(t, sugg.Edits)

	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, string(content), "manual strategies must not mutate files")
}

func TestAttemptFixDisabledStrategyWithheld(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	cfg := config.AutoFixConfig{
		EnabledStrategies:  map[string]bool{string(schemas.BugMemoryLeak): false},
		MaxAutoFixesPerRun: 10,
	}
	engine, _ := newTestEngine(t, cfg, exec)

	path := writeSource(t, "app.js", "setInterval(tick, 1000);\n")
	res, sugg, err := engine.AttemptFix(context.Background(), leakBug(path))
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, sugg)
	assert.Contains(t, sugg.Reason, "disabled")
}

func TestAttemptFixBudgetExhausted(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 1}, exec)
	ctx := context.Background()

	first := writeSource(t, "a.js", "setInterval(tick, 1000);\n")
	second := writeSource(t, "b.js", "setInterval(tock, 500);\n")

	res, _, err := engine.AttemptFix(ctx, leakBug(first))
	require.NoError(t, err)
	require.True(t, res.Success)

	res, sugg, err := engine.AttemptFix(ctx, leakBug(second))
	require.NoError(t, err)
	assert.Nil(t, res)
	require.NotNil(t, sugg)
	assert.Contains(t, sugg.Reason, "budget")
}

func TestAttemptFixBudgetReleasedOnZeroMatches(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 1}, exec)
	ctx := context.Background()

	clean := writeSource(t, "clean.js", "console.log('ok');\n")
	res, _, err := engine.AttemptFix(ctx, leakBug(clean))
	require.NoError(t, err)
	require.False(t, res.Success)

	// The failed attempt must not consume the single slot.
	leaky := writeSource(t, "leaky.js", "setInterval(tick, 1000);\n")
	res, sugg, err := engine.AttemptFix(ctx, leakBug(leaky))
	require.NoError(t, err)
	require.Nil(t, sugg)
	require.NotNil(t, res)
	assert.True(t, res.Success)
}

func TestAttemptFixBudgetReleasedOnValidationFailure(t *testing.T) {
	t.Parallel()
	exec := &stubExec{failValidation: true}
	engine, _ := newTestEngine(t, config.AutoFixConfig{CreateBackups: true, MaxAutoFixesPerRun: 1}, exec)
	ctx := context.Background()

	first := writeSource(t, "a.js", "setInterval(tick, 1000);\n")
	res, _, err := engine.AttemptFix(ctx, leakBug(first))
	require.NoError(t, err)
	require.False(t, res.Success)

	exec.mu.Lock()
	exec.failValidation = false
	exec.mu.Unlock()

	second := writeSource(t, "b.js", "setInterval(tock, 2000);\n")
	res, sugg, err := engine.AttemptFix(ctx, leakBug(second))
	require.NoError(t, err)
	require.Nil(t, sugg)
	require.True(t, res.Success)
}

func TestAttemptFixRejectedPath(t *testing.T) {
	t.Parallel()
	exec := &stubExec{rejectPaths: true}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 10}, exec)

	_, _, err := engine.AttemptFix(context.Background(), leakBug("../../etc/passwd"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejecting fix target")
}

func TestApplyRulesStrictEquality(t *testing.T) {
	t.Parallel()
	strat := Strategies()[schemas.BugTypeError]

	out, fixes := applyRules(strat, "if (a == b && c != d) {\n")
	assert.Equal(t, "if (a === b && c !== d) {\n", out)
	assert.Len(t, fixes, 2)
}

func TestStatisticsAndHistory(t *testing.T) {
	t.Parallel()
	exec := &stubExec{}
	engine, _ := newTestEngine(t, config.AutoFixConfig{MaxAutoFixesPerRun: 10}, exec)
	ctx := context.Background()

	good := writeSource(t, "a.js", "setInterval(tick, 1000);\n")
	clean := writeSource(t, "b.js", "console.log('ok');\n")

	_, _, err := engine.AttemptFix(ctx, leakBug(good))
	require.NoError(t, err)
	_, _, err = engine.AttemptFix(ctx, leakBug(clean))
	require.NoError(t, err)

	stats := engine.Statistics()
	assert.Equal(t, 2, stats.TotalFixes)
	assert.Equal(t, 1, stats.SuccessfulFixes)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 0.85, stats.AverageConfidence, 1e-9)
	assert.Equal(t, 1, stats.FixesByType[schemas.BugMemoryLeak])

	history := engine.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)
	assert.False(t, history[1].Success)
	assert.False(t, history[0].CompletedAt.IsZero())
}

func TestUnifiedDiffNonEmptyOnChange(t *testing.T) {
	t.Parallel()
	diff := unifiedDiff("a == b\n", "a === b\n")
	assert.True(t, strings.Contains(diff, "@@"), "expected patch hunks, got %q", diff)
}
