// File: internal/controller/watcher.go
package controller

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay batches editor write bursts into one re-scan.
const debounceDelay = 300 * time.Millisecond

// Watch runs continuous real-time mode: an initial full pass, then re-scans
// of individual files as they change. It blocks until the context is
// cancelled. The Stop switch gates new scans but never an in-flight fix.
func (s *Session) Watch(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.watchTree(watcher); err != nil {
		return err
	}
	s.logger.Info("Watching for file changes", zap.String("root", s.root))

	// Pending debounce timers, keyed by path.
	var mu sync.Mutex
	pending := make(map[string]*time.Timer)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			s.logger.Info("Stopping file watcher")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				// New directories need their own watch.
				if s.dirCreated(event.Name) {
					_ = watcher.Add(event.Name)
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if s.stopped.Load() || !s.ScannableFile(event.Name) {
				continue
			}
			path := event.Name
			mu.Lock()
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(debounceDelay, func() {
				mu.Lock()
				delete(pending, path)
				mu.Unlock()
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.ProcessFile(ctx, path)
				}()
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

// watchTree registers every non-excluded directory under the root.
func (s *Session) watchTree(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if excludedDirs[name] || (path != s.root && len(name) > 0 && name[0] == '.') {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(path); addErr != nil {
			s.logger.Warn("Cannot watch directory", zap.String("dir", path), zap.Error(addErr))
		}
		return nil
	})
}

func (s *Session) dirCreated(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
