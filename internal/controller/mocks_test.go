package controller

import (
	"context"
	"sync"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

// Stateful fakes for the session's dependencies. Each records its calls so
// tests can assert ordering and routing without touching the real pipeline.

type fakeDetector struct {
	mu      sync.Mutex
	scanned []string
	scanFn  func(path string) []schemas.DetectedBug
	stats   schemas.BugStatistics
}

func (f *fakeDetector) Scan(_ context.Context, path string) []schemas.DetectedBug {
	f.mu.Lock()
	f.scanned = append(f.scanned, path)
	f.mu.Unlock()
	if f.scanFn == nil {
		return nil
	}
	return f.scanFn(path)
}

func (f *fakeDetector) Statistics() schemas.BugStatistics { return f.stats }

func (f *fakeDetector) scannedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.scanned))
	copy(out, f.scanned)
	return out
}

type fakeFixer struct {
	mu        sync.Mutex
	attempted []schemas.DetectedBug
	fixFn     func(bug schemas.DetectedBug) (*schemas.FixResult, *schemas.ManualSuggestion, error)
	stats     schemas.FixStatistics
}

func (f *fakeFixer) AttemptFix(_ context.Context, bug schemas.DetectedBug) (*schemas.FixResult, *schemas.ManualSuggestion, error) {
	f.mu.Lock()
	f.attempted = append(f.attempted, bug)
	f.mu.Unlock()
	if f.fixFn == nil {
		return &schemas.FixResult{BugID: bug.ID, BugType: bug.Type, FilePath: bug.FilePath, Success: true}, nil, nil
	}
	return f.fixFn(bug)
}

func (f *fakeFixer) History() []schemas.FixResult      { return nil }
func (f *fakeFixer) Statistics() schemas.FixStatistics { return f.stats }

func (f *fakeFixer) attemptedBugs() []schemas.DetectedBug {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schemas.DetectedBug, len(f.attempted))
	copy(out, f.attempted)
	return out
}

type fakeBackups struct {
	mu       sync.Mutex
	latest   []string // Returned by Latest, newest first.
	restored []string
}

func (f *fakeBackups) Create(string, []byte, string) (string, error) { return "backup-id", nil }

func (f *fakeBackups) Restore(id string) error {
	f.mu.Lock()
	f.restored = append(f.restored, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackups) Latest(_ string, n int) []string {
	if n > len(f.latest) {
		n = len(f.latest)
	}
	return f.latest[:n]
}

func (f *fakeBackups) List() []schemas.BackupInfo { return nil }

func (f *fakeBackups) restoredIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.restored))
	copy(out, f.restored)
	return out
}

type fakeExec struct{}

func (fakeExec) SanitizePath(p string) (string, error) { return p, nil }

func (fakeExec) SafeSpawn(context.Context, string, []string) (*schemas.SpawnResult, error) {
	return &schemas.SpawnResult{ExitCode: 0}, nil
}

func (fakeExec) Warnings() []schemas.SecurityWarning { return nil }

type fakeSink struct {
	mu      sync.Mutex
	records []schemas.Record
}

func (f *fakeSink) SaveRecord(_ context.Context, rec schemas.Record) error {
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) byType(t schemas.RecordType) []schemas.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schemas.Record
	for _, r := range f.records {
		if r.Metadata.Type == t {
			out = append(out, r)
		}
	}
	return out
}
