package schemas

import "time"

// -- Fix Schemas --

// AppliedFix captures one concrete replacement made inside a file.
type AppliedFix struct {
	Original string `json:"original"`
	Fixed    string `json:"fixed"`
	Line     int    `json:"line"` // 1-based line of the original match.
}

// FixResult is the immutable record of one fix attempt. Exactly one is
// produced per attempt and appended to the session's execution history.
type FixResult struct {
	BugID        string       `json:"bug_id"`
	BugType      BugType      `json:"bug_type"`
	FilePath     string       `json:"file_path"`
	Strategy     string       `json:"strategy"`
	Success      bool         `json:"success"`
	AppliedFixes []AppliedFix `json:"applied_fixes,omitempty"`
	Diff         string       `json:"diff,omitempty"` // Unified diff of the mutation.
	Confidence   float64      `json:"confidence"`
	BackupID     string       `json:"backup_id,omitempty"`
	Error        string       `json:"error,omitempty"`
	CompletedAt  time.Time    `json:"completed_at"`
}

// SuggestedEdit is a single proposed replacement inside a ManualSuggestion.
type SuggestedEdit struct {
	Line      int    `json:"line"`
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
}

// ManualSuggestion is returned instead of a FixResult when a strategy exists
// but may not be applied automatically. No file is touched.
type ManualSuggestion struct {
	BugID    string          `json:"bug_id"`
	BugType  BugType         `json:"bug_type"`
	FilePath string          `json:"file_path"`
	Strategy string          `json:"strategy"`
	Reason   string          `json:"reason"` // Why auto-apply was withheld.
	Edits    []SuggestedEdit `json:"edits"`
}

// BackupInfo describes a stored snapshot without exposing its content.
type BackupInfo struct {
	ID        string    `json:"id"`
	FilePath  string    `json:"file_path"`
	Reason    string    `json:"reason"` // bug id / bug type / strategy that triggered it.
	Size      int       `json:"size"`   // Uncompressed content length in bytes.
	CreatedAt time.Time `json:"created_at"`
}

// FixStatistics summarizes a session's fix activity for triage.
type FixStatistics struct {
	TotalFixes        int             `json:"total_fixes"`
	SuccessfulFixes   int             `json:"successful_fixes"`
	SuccessRate       float64         `json:"success_rate"`
	FixesByType       map[BugType]int `json:"fixes_by_type"`
	AverageConfidence float64         `json:"average_confidence"`
}
