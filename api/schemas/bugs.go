package schemas

import (
	"time"
)

// -- Bug Schemas --

// BugType identifies the class of defect a pattern detects. The values are
// snake_case to keep them stable across config files and exported reports.
type BugType string

// Constants for every bug class known to the pattern library.
const (
	BugMemoryLeak          BugType = "memory_leak"
	BugSQLInjection        BugType = "sql_injection"
	BugXSSVulnerability    BugType = "xss_vulnerability"
	BugResourceLeak        BugType = "resource_leak"
	BugAsyncError          BugType = "async_error"
	BugTypeError           BugType = "type_error"
	BugCryptoVulnerability BugType = "crypto_vulnerability"
	BugPathTraversal       BugType = "path_traversal"
	BugCommandInjection    BugType = "command_injection"
)

// Severity represents the severity level of a detected bug.
type Severity string

// Constants defining the standard severity levels.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for queue processing. Higher is more urgent.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank returns the ordinal weight of the severity. Unknown severities rank
// below low so malformed input never jumps the queue.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AutoApplicable reports whether findings of this severity are eligible for
// unattended fixing. Medium and low findings are report-only.
func (s Severity) AutoApplicable() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// DetectedBug is a single match produced by the detector. It is immutable
// after creation; the fixer and controller only ever read it.
type DetectedBug struct {
	// ID is deterministic over (type, file, normalized snippet) so the same
	// construct yields the same identity across scans. Regression comparison
	// depends on this.
	ID         string    `json:"id"`
	Type       BugType   `json:"type"`
	Severity   Severity  `json:"severity"`
	FilePath   string    `json:"file_path"`
	Line       int       `json:"line"` // 1-based.
	Snippet    string    `json:"snippet"`
	Pattern    string    `json:"pattern"` // Source text of the pattern that matched.
	DetectedAt time.Time `json:"detected_at"`
}

// BugStatistics summarizes everything the detector has seen in a session.
type BugStatistics struct {
	TotalScannedFiles int              `json:"total_scanned_files"`
	TotalBugsDetected int              `json:"total_bugs_detected"`
	BugsByType        map[BugType]int  `json:"bugs_by_type"`
	BugsBySeverity    map[Severity]int `json:"bugs_by_severity"`
}

// SecurityWarning records a rejected path or command. The list is append-only
// and exported for audit.
type SecurityWarning struct {
	Type       string    `json:"type"`    // e.g. "path_traversal", "command_not_allowed".
	Subject    string    `json:"subject"` // The offending path or command line.
	Reason     string    `json:"reason"`
	DetectedBy string    `json:"detected_by"` // Which validation stage caught it.
	Timestamp  time.Time `json:"timestamp"`
}
