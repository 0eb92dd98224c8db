package schemas

import "context"

// Interfaces shared across the pipeline. Components accept these rather than
// concrete types so the controller, fixer, and tests can be wired with mocks.

// Detector scans a single file and returns structured findings.
type Detector interface {
	// Scan never returns an error for unreadable files; it logs and returns
	// an empty slice so a bad file cannot abort a project-wide pass.
	Scan(ctx context.Context, filePath string) []DetectedBug

	// Statistics returns the accumulated detection counters for the session.
	Statistics() BugStatistics
}

// Fixer applies or suggests a fix for one detected bug.
type Fixer interface {
	// AttemptFix mutates the file when the bug's strategy is auto-applicable,
	// otherwise it returns a ManualSuggestion and leaves the file untouched.
	// Exactly one of the two return values is non-nil on success.
	AttemptFix(ctx context.Context, bug DetectedBug) (*FixResult, *ManualSuggestion, error)

	// History returns the append-only execution history of this session.
	History() []FixResult

	// Statistics summarizes the history for triage.
	Statistics() FixStatistics
}

// BackupManager snapshots files before mutation and restores them on demand.
type BackupManager interface {
	Create(filePath string, content []byte, reason string) (string, error)
	Restore(backupID string) error
	// Latest returns ids of the newest backups for a file, newest first.
	Latest(filePath string, n int) []string
	List() []BackupInfo
}

// Executor is the sandboxed process and path gatekeeper.
type Executor interface {
	// SanitizePath resolves a caller-supplied path and fails closed when it
	// escapes the project root in any encoded or symlinked form.
	SanitizePath(userPath string) (string, error)

	// SafeSpawn runs an allow-listed command without a shell and returns its
	// captured output. The context bounds execution; termination escalates
	// from graceful to forced.
	SafeSpawn(ctx context.Context, command string, args []string) (*SpawnResult, error)

	// Warnings returns every SecurityWarning recorded so far.
	Warnings() []SecurityWarning
}

// SpawnResult carries the observable outcome of a sandboxed invocation.
type SpawnResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration int64 // Milliseconds, for audit records.
}

// RecordSink posts human-readable session records to the external memory
// service. Implementations must never block the fix pipeline on failure.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec Record) error
}

// Record is the generic payload accepted by the memory service.
type Record struct {
	UserID   string         `json:"user_id"`
	Content  string         `json:"content"`
	Metadata RecordMetadata `json:"metadata"`
}

// RecordType enumerates the record categories the sink understands.
type RecordType string

const (
	RecordAutoFixResult    RecordType = "auto_fix_result"
	RecordBugReport        RecordType = "bug_report"
	RecordFixSuggestion    RecordType = "fix_suggestion"
	RecordRegressionReport RecordType = "regression_report"
)

// RecordMetadata is the structured half of a Record.
type RecordMetadata struct {
	Type     RecordType     `json:"type"`
	FilePath string         `json:"file_path,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}
