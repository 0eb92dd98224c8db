// File: internal/controller/watcher_test.go
package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func countScans(paths []string, target string) int {
	n := 0
	for _, p := range paths {
		if p == target {
			n++
		}
	}
	return n
}

func TestWatchRescansChangedFile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	target := filepath.Join(root, "app.js")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	s, deps := newTestSession(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Initial pass picks the file up once.
	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return countScans(deps.det.scannedPaths(), target) >= 1
	}), "initial pass never scanned the file")

	require.NoError(t, os.WriteFile(target, []byte("changed"), 0o644))

	assert.True(t, waitFor(t, 5*time.Second, func() bool {
		return countScans(deps.det.scannedPaths(), target) >= 2
	}), "change event never triggered a re-scan")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}

func TestWatchIgnoresNonSourceFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	source := filepath.Join(root, "app.js")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0o644))

	s, deps := newTestSession(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return countScans(deps.det.scannedPaths(), source) >= 1
	}))

	noise := filepath.Join(root, "notes.md")
	require.NoError(t, os.WriteFile(noise, []byte("n"), 0o644))
	time.Sleep(600 * time.Millisecond) // Past the debounce window.

	assert.Zero(t, countScans(deps.det.scannedPaths(), noise))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancellation")
	}
}
