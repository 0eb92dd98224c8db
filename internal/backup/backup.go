// Package backup creates, retains, and restores point-in-time file snapshots.
// It is the fixer's safety net: every mutating write is preceded by Create,
// and Restore is the only path that undoes a committed mutation.
package backup

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/config"
)

// Manager implements schemas.BackupManager. Snapshots are brotli-compressed
// on disk; the index lives in memory and is rebuilt per session. All index
// mutation happens under the manager's own lock.
type Manager struct {
	logger *zap.Logger
	cfg    config.RollbackConfig
	dir    string

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // Creation order, oldest first, for retention pruning.
}

type entry struct {
	info         schemas.BackupInfo
	snapshotPath string
	mode         fs.FileMode
}

var _ schemas.BackupManager = (*Manager)(nil)

// NewManager prepares the snapshot directory and returns an empty store.
func NewManager(logger *zap.Logger, cfg config.RollbackConfig) (*Manager, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create backup dir %q: %w", cfg.Dir, err)
	}
	return &Manager{
		logger:  logger.Named("backup"),
		cfg:     cfg,
		dir:     cfg.Dir,
		entries: make(map[string]*entry),
	}, nil
}

// Create snapshots content as the pre-mutation state of filePath and returns
// the opaque backup id. Retention pruning runs on the same lock so the store
// never exceeds its configured bounds.
func (m *Manager) Create(filePath string, content []byte, reason string) (string, error) {
	id := uuid.New().String()
	snapshotPath := filepath.Join(m.dir, id+".br")

	var compressed bytes.Buffer
	w := brotli.NewWriter(&compressed)
	if _, err := w.Write(content); err != nil {
		return "", fmt.Errorf("compressing backup for %q: %w", filePath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compressing backup for %q: %w", filePath, err)
	}
	if err := os.WriteFile(snapshotPath, compressed.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("writing snapshot %q: %w", snapshotPath, err)
	}

	mode := fs.FileMode(0o644)
	if st, err := os.Stat(filePath); err == nil {
		mode = st.Mode().Perm()
	}

	m.mu.Lock()
	m.entries[id] = &entry{
		info: schemas.BackupInfo{
			ID:        id,
			FilePath:  filePath,
			Reason:    reason,
			Size:      len(content),
			CreatedAt: time.Now(),
		},
		snapshotPath: snapshotPath,
		mode:         mode,
	}
	m.order = append(m.order, id)
	m.pruneLocked()
	m.mu.Unlock()

	m.logger.Debug("Backup created",
		zap.String("backup_id", id),
		zap.String("file", filePath),
		zap.String("reason", reason),
		zap.Int("size", len(content)),
	)
	return id, nil
}

// Restore rewrites the original file exactly as captured. The snapshot stays
// in the store; restore is read-only against it.
func (m *Manager) Restore(backupID string) error {
	m.mu.Lock()
	en, ok := m.entries[backupID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown backup id %q", backupID)
	}

	compressed, err := os.ReadFile(en.snapshotPath)
	if err != nil {
		return fmt.Errorf("reading snapshot %q: %w", en.snapshotPath, err)
	}
	content, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return fmt.Errorf("decompressing snapshot %q: %w", backupID, err)
	}
	if err := os.WriteFile(en.info.FilePath, content, en.mode); err != nil {
		return fmt.Errorf("restoring %q: %w", en.info.FilePath, err)
	}

	m.logger.Info("Backup restored",
		zap.String("backup_id", backupID),
		zap.String("file", en.info.FilePath),
	)
	return nil
}

// Latest returns up to n backup ids for filePath, newest first.
func (m *Manager) Latest(filePath string, n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for i := len(m.order) - 1; i >= 0 && len(ids) < n; i-- {
		id := m.order[i]
		if en, ok := m.entries[id]; ok && en.info.FilePath == filePath {
			ids = append(ids, id)
		}
	}
	return ids
}

// List returns metadata for every retained snapshot, oldest first.
func (m *Manager) List() []schemas.BackupInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.BackupInfo, 0, len(m.order))
	for _, id := range m.order {
		if en, ok := m.entries[id]; ok {
			out = append(out, en.info)
		}
	}
	return out
}

// pruneLocked enforces the retention policy: age first, then count, oldest
// out first. Caller holds m.mu.
func (m *Manager) pruneLocked() {
	if m.cfg.BackupRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -m.cfg.BackupRetentionDays)
		for len(m.order) > 0 {
			en := m.entries[m.order[0]]
			if en == nil || en.info.CreatedAt.After(cutoff) {
				break
			}
			m.dropOldestLocked()
		}
	}
	if m.cfg.MaxBackupFiles > 0 {
		for len(m.order) > m.cfg.MaxBackupFiles {
			m.dropOldestLocked()
		}
	}
}

func (m *Manager) dropOldestLocked() {
	id := m.order[0]
	m.order = m.order[1:]
	if en, ok := m.entries[id]; ok {
		if err := os.Remove(en.snapshotPath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("Failed to remove expired snapshot", zap.String("backup_id", id), zap.Error(err))
		}
		delete(m.entries, id)
	}
}
