// Package controller drives the end-to-end remediation workflow: full
// project scans, continuous file-watch scanning, severity-ordered fixing,
// post-fix verification, and rollback on regression.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/config"
	"github.com/xkilldash9x/stitch-cli/internal/fixer"
	"github.com/xkilldash9x/stitch-cli/internal/sandbox"
)

// State is the per-file position in the remediation state machine.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateFixing      State = "fixing"
	StateVerifying   State = "verifying"
	StateRollingBack State = "rolling_back"
)

// Directories never scanned. Dependency and build output plus our own
// backup store.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	"coverage":     true,
	".stitch":      true,
	"__tests__":    true,
}

// sourceExts are the file types the lexical pipeline understands.
var sourceExts = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true,
	".jsx": true, ".ts": true, ".tsx": true,
}

// RegressionReport records the outcome of a failed verification pass.
type RegressionReport struct {
	FilePath   string                `json:"file_path"`
	FixedIDs   []string              `json:"fixed_ids"`
	NewBugs    []schemas.DetectedBug `json:"new_bugs"`
	RolledBack bool                  `json:"rolled_back"`
	Timestamp  time.Time             `json:"timestamp"`
}

// Session owns one autonomous remediation run: its execution history, its
// security warnings, and its per-file state live here rather than in package
// globals, so independent sessions never cross-contaminate.
type Session struct {
	logger   *zap.Logger
	cfg      *config.Config
	detector schemas.Detector
	fixer    schemas.Fixer
	backups  schemas.BackupManager
	exec     schemas.Executor
	sink     schemas.RecordSink
	root     string

	// stopped blocks new scans; an in-flight fix always reaches a terminal
	// state before the session counts as stopped.
	stopped atomic.Bool

	fileLocks sync.Map // path -> *sync.Mutex

	mu          sync.Mutex
	states      map[string]State
	regressions []RegressionReport
}

// NewSession wires a Session over fully constructed components.
func NewSession(
	logger *zap.Logger,
	cfg *config.Config,
	root string,
	det schemas.Detector,
	fix schemas.Fixer,
	backups schemas.BackupManager,
	exec schemas.Executor,
	sink schemas.RecordSink,
) (*Session, error) {
	if cfg == nil || det == nil || fix == nil || backups == nil || exec == nil || sink == nil {
		return nil, fmt.Errorf("cannot initialize session with nil dependencies")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %q: %w", root, err)
	}
	return &Session{
		logger:   logger.Named("controller"),
		cfg:      cfg,
		detector: det,
		fixer:    fix,
		backups:  backups,
		exec:     exec,
		sink:     sink,
		root:     abs,
		states:   make(map[string]State),
	}, nil
}

// Stop prevents new scans from starting. It does not interrupt a fix already
// in flight.
func (s *Session) Stop() {
	s.stopped.Store(true)
	s.logger.Info("Session stop requested; in-flight fixes will finish")
}

// RunOnce performs the initial full-project pass: enumerate, detect, fix,
// verify. Files are processed concurrently; work within one file is strictly
// serialized.
func (s *Session) RunOnce(ctx context.Context) error {
	files, err := s.enumerate()
	if err != nil {
		return fmt.Errorf("enumerating project files: %w", err)
	}
	s.logger.Info("Starting project scan", zap.String("root", s.root), zap.Int("files", len(files)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Engine.WorkerConcurrency)
	for _, file := range files {
		g.Go(func() error {
			s.ProcessFile(ctx, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.postSummary(ctx)
	return ctx.Err()
}

// ScanOnly enumerates and detects without touching any file. Used by the
// report-only command surface.
func (s *Session) ScanOnly(ctx context.Context) ([]schemas.DetectedBug, error) {
	files, err := s.enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerating project files: %w", err)
	}

	var mu sync.Mutex
	var all []schemas.DetectedBug
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Engine.WorkerConcurrency)
	for _, file := range files {
		g.Go(func() error {
			bugs := s.detector.Scan(ctx, file)
			if len(bugs) > 0 {
				mu.Lock()
				all = append(all, bugs...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].FilePath != all[j].FilePath {
			return all[i].FilePath < all[j].FilePath
		}
		if all[i].Severity.Rank() != all[j].Severity.Rank() {
			return all[i].Severity.Rank() > all[j].Severity.Rank()
		}
		return all[i].Line < all[j].Line
	})
	return all, ctx.Err()
}

// ProcessFile runs the full state machine for a single file. Safe to call
// concurrently for different files; calls for the same file serialize on the
// per-file lock.
func (s *Session) ProcessFile(ctx context.Context, path string) {
	if s.stopped.Load() || ctx.Err() != nil {
		return
	}
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	defer s.setState(path, StateIdle)

	s.setState(path, StateScanning)
	bugs := s.detector.Scan(ctx, path)
	if len(bugs) == 0 {
		return
	}

	// Most severe first; stable line order inside one severity band.
	sort.SliceStable(bugs, func(i, j int) bool {
		if bugs[i].Severity.Rank() != bugs[j].Severity.Rank() {
			return bugs[i].Severity.Rank() > bugs[j].Severity.Rank()
		}
		return bugs[i].Line < bugs[j].Line
	})

	s.setState(path, StateFixing)
	before := make(map[string]bool, len(bugs))
	fixed := make(map[string]bool)
	for _, bug := range bugs {
		before[bug.ID] = true
	}

	for _, bug := range bugs {
		if ctx.Err() != nil {
			break
		}
		if !bug.Severity.AutoApplicable() {
			s.postBugReport(ctx, bug)
			continue
		}
		res, sugg, err := s.fixer.AttemptFix(ctx, bug)
		switch {
		case errors.Is(err, fixer.ErrStrategyUnavailable):
			s.postBugReport(ctx, bug)
		case errors.Is(err, sandbox.ErrPathTraversal):
			// Fail closed, never retry: the warning is already on the audit
			// trail, the bug stays reportable.
			s.logger.Error("Fix target rejected by sandbox", zap.String("bug_id", bug.ID), zap.Error(err))
			s.postBugReport(ctx, bug)
		case err != nil:
			s.logger.Error("Fix attempt failed", zap.String("bug_id", bug.ID), zap.Error(err))
		case sugg != nil:
			s.postSuggestion(ctx, sugg)
		case res != nil && res.Success:
			fixed[bug.ID] = true
			s.postFixResult(ctx, res)
		}
	}

	if len(fixed) == 0 {
		return
	}

	s.setState(path, StateVerifying)
	s.verify(ctx, path, before, fixed)
}

// verify re-scans the file after a fix batch. A newly-detected bug whose
// deterministic id was neither present before the batch nor among the bugs
// just fixed is a regression. When regressions outnumber the fixes, the
// batch is undone via the most recent backups.
func (s *Session) verify(ctx context.Context, path string, before, fixed map[string]bool) {
	after := s.detector.Scan(ctx, path)
	var regressions []schemas.DetectedBug
	for _, bug := range after {
		if !before[bug.ID] && !fixed[bug.ID] {
			regressions = append(regressions, bug)
		}
	}
	if len(regressions) == 0 {
		return
	}

	report := RegressionReport{
		FilePath:  path,
		FixedIDs:  keys(fixed),
		NewBugs:   regressions,
		Timestamp: time.Now(),
	}

	if len(regressions) > len(fixed) {
		s.setState(path, StateRollingBack)
		s.logger.Warn("Regression detected, rolling back fix batch",
			zap.String("file", path),
			zap.Int("fixed", len(fixed)),
			zap.Int("regressions", len(regressions)),
		)
		// Newest-to-oldest: the final restore leaves the pre-batch content.
		for _, id := range s.backups.Latest(path, len(fixed)) {
			if err := s.backups.Restore(id); err != nil {
				s.logger.Error("Rollback restore failed", zap.String("backup_id", id), zap.Error(err))
			}
		}
		report.RolledBack = true
	} else {
		s.logger.Warn("Regressions within tolerance, keeping fixes",
			zap.String("file", path),
			zap.Int("fixed", len(fixed)),
			zap.Int("regressions", len(regressions)),
		)
	}

	s.mu.Lock()
	s.regressions = append(s.regressions, report)
	s.mu.Unlock()
	s.postRegression(ctx, report)
}

// enumerate walks the project tree and returns every scannable source file,
// excluding dependency/build directories and test files.
func (s *Session) enumerate() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("Walk error, skipping entry", zap.String("path", path), zap.Error(err))
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if excludedDirs[name] || (name != "." && strings.HasPrefix(name, ".") && path != s.root) {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExts[filepath.Ext(name)] {
			return nil
		}
		if strings.Contains(name, ".test.") || strings.Contains(name, ".spec.") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// ScannableFile reports whether a path would be picked up by enumerate. The
// watcher uses it to filter change events.
func (s *Session) ScannableFile(path string) bool {
	name := filepath.Base(path)
	if !sourceExts[filepath.Ext(name)] {
		return false
	}
	if strings.Contains(name, ".test.") || strings.Contains(name, ".spec.") {
		return false
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if excludedDirs[part] || strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

// -- Observability surface --

// StateOf returns the current state-machine position for a file.
func (s *Session) StateOf(path string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[path]; ok {
		return st
	}
	return StateIdle
}

// FixStatistics exposes the fixer's session counters.
func (s *Session) FixStatistics() schemas.FixStatistics { return s.fixer.Statistics() }

// BugStatistics exposes the detector's session counters.
func (s *Session) BugStatistics() schemas.BugStatistics { return s.detector.Statistics() }

// SecurityWarnings exposes the accumulated sandbox audit trail.
func (s *Session) SecurityWarnings() []schemas.SecurityWarning { return s.exec.Warnings() }

// Regressions returns every regression report recorded this session.
func (s *Session) Regressions() []RegressionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegressionReport, len(s.regressions))
	copy(out, s.regressions)
	return out
}

// -- plumbing --

func (s *Session) lockFor(path string) *sync.Mutex {
	actual, _ := s.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (s *Session) setState(path string, st State) {
	s.mu.Lock()
	s.states[path] = st
	s.mu.Unlock()
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
