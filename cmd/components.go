// File: cmd/components.go
package cmd

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/internal/backup"
	"github.com/xkilldash9x/stitch-cli/internal/config"
	"github.com/xkilldash9x/stitch-cli/internal/controller"
	"github.com/xkilldash9x/stitch-cli/internal/detector"
	"github.com/xkilldash9x/stitch-cli/internal/fixer"
	"github.com/xkilldash9x/stitch-cli/internal/memorybank"
	"github.com/xkilldash9x/stitch-cli/internal/sandbox"
)

// buildSession assembles the full remediation pipeline for one project root.
// Construction order is leaf-first: sandbox and backup store, then the
// components that depend on them.
func buildSession(logger *zap.Logger, cfg *config.Config, root string) (*controller.Session, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root %q: %w", root, err)
	}

	exec, err := sandbox.New(logger, cfg.Security, absRoot)
	if err != nil {
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}

	// Keep the backup store under the project root unless configured
	// absolute, so one project's snapshots never mix with another's.
	rollbackCfg := cfg.Rollback
	if !filepath.IsAbs(rollbackCfg.Dir) {
		rollbackCfg.Dir = filepath.Join(absRoot, rollbackCfg.Dir)
	}
	backups, err := backup.NewManager(logger, rollbackCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing backup store: %w", err)
	}

	autoFixCfg := cfg.AutoFix
	if !cfg.Rollback.Enabled {
		autoFixCfg.CreateBackups = false
	}

	det := detector.New(logger)
	fix := fixer.New(logger, autoFixCfg, backups, exec)
	sink := memorybank.New(logger, cfg.MemoryBank)

	return controller.NewSession(logger, cfg, absRoot, det, fix, backups, exec, sink)
}
