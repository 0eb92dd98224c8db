// Package sandbox enforces path and command safety for every filesystem or
// process access triggered by the fix pipeline. Both mechanisms fail closed:
// a rejected path or command is recorded as a SecurityWarning and surfaced as
// an error, never retried.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/config"
)

// Sentinel errors for the security taxonomy. Callers match with errors.Is.
var (
	ErrPathTraversal     = errors.New("path traversal rejected")
	ErrCommandNotAllowed = errors.New("command not allowed")
	ErrArgumentRejected  = errors.New("command argument rejected")
)

// Executor implements schemas.Executor. One instance serves a whole session;
// its warning list is the session's security audit trail.
type Executor struct {
	logger      *zap.Logger
	audit       *zap.Logger
	cfg         config.SecurityConfig
	projectRoot string // Absolute, symlink-resolved.

	mu       sync.Mutex
	warnings []schemas.SecurityWarning
}

var _ schemas.Executor = (*Executor)(nil)

// New builds an Executor rooted at projectRoot. The root is resolved to its
// real path once so later symlink checks compare like with like.
func New(logger *zap.Logger, cfg config.SecurityConfig, projectRoot string) (*Executor, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %q: %w", projectRoot, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve project root %q: %w", projectRoot, err)
	}
	return &Executor{
		logger:      logger.Named("sandbox"),
		audit:       logger.Named("sandbox.audit"),
		cfg:         cfg,
		projectRoot: real,
	}, nil
}

// ProjectRoot returns the resolved root every sanitized path must live under.
func (e *Executor) ProjectRoot() string {
	return e.projectRoot
}

// Warnings returns a copy of every SecurityWarning recorded so far.
func (e *Executor) Warnings() []schemas.SecurityWarning {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.SecurityWarning, len(e.warnings))
	copy(out, e.warnings)
	return out
}

// recordWarning appends to the audit trail and emits a structured event.
func (e *Executor) recordWarning(warnType, subject, reason, detectedBy string) {
	w := schemas.SecurityWarning{
		Type:       warnType,
		Subject:    subject,
		Reason:     reason,
		DetectedBy: detectedBy,
		Timestamp:  time.Now(),
	}
	e.mu.Lock()
	e.warnings = append(e.warnings, w)
	e.mu.Unlock()

	e.audit.Warn("Security rejection",
		zap.String("type", warnType),
		zap.String("subject", subject),
		zap.String("reason", reason),
		zap.String("detected_by", detectedBy),
	)
}
