// Package detector applies the pattern library to file contents and emits
// structured findings. Detection is intentionally lexical, not AST-based: it
// trades precision for zero-dependency portability, and callers must
// tolerate false positives and negatives.
package detector

import (
	"context"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
	"github.com/xkilldash9x/stitch-cli/internal/patterns"
)

// Detector implements schemas.Detector. One instance accumulates statistics
// for a whole session; scanning itself is stateless per file.
type Detector struct {
	logger  *zap.Logger
	library []patterns.BugPattern

	mu    sync.Mutex
	stats schemas.BugStatistics
}

// New returns a Detector over the full pattern library.
func New(logger *zap.Logger) *Detector {
	return &Detector{
		logger:  logger.Named("detector"),
		library: patterns.Library(),
		stats: schemas.BugStatistics{
			BugsByType:     make(map[schemas.BugType]int),
			BugsBySeverity: make(map[schemas.Severity]int),
		},
	}
}

var _ schemas.Detector = (*Detector)(nil)

var (
	tryTokenRegex   = regexp.MustCompile(`\btry\b`)
	catchTokenRegex = regexp.MustCompile(`\bcatch\b`)
)

// Scan reads filePath and returns every pattern match that survives
// false-positive filtering. An unreadable file is logged and yields an empty
// result; the error never reaches the caller.
func (d *Detector) Scan(ctx context.Context, filePath string) []schemas.DetectedBug {
	if ctx.Err() != nil {
		return nil
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		d.logger.Error("Cannot read file, skipping", zap.String("file", filePath), zap.Error(err))
		return nil
	}

	bugs := d.ScanContent(filePath, string(content))

	d.mu.Lock()
	d.stats.TotalScannedFiles++
	d.stats.TotalBugsDetected += len(bugs)
	for _, b := range bugs {
		d.stats.BugsByType[b.Type]++
		d.stats.BugsBySeverity[b.Severity]++
	}
	d.mu.Unlock()

	if len(bugs) > 0 {
		d.logger.Info("Findings in file", zap.String("file", filePath), zap.Int("count", len(bugs)))
	}
	return bugs
}

// ScanContent is the pure matching core, free of I/O so it is independently
// unit-testable. Overlapping pattern families are allowed: one line may
// trigger multiple bug types.
func (d *Detector) ScanContent(filePath, content string) []schemas.DetectedBug {
	var bugs []schemas.DetectedBug
	seen := make(map[string]bool)
	now := time.Now()

	for _, bp := range d.library {
		for _, p := range bp.Patterns {
			if p.CounterToken != "" && strings.Contains(content, p.CounterToken) {
				// The cleanup half of the pair exists somewhere in the file.
				continue
			}
			for _, loc := range p.Regexp.FindAllStringIndex(content, -1) {
				lineText := lineAt(content, loc[0])
				if suppressed(bp.Type, content, loc, lineText) {
					continue
				}
				snippet := normalizeSnippet(lineText)
				id := BugID(bp.Type, filePath, snippet)
				if seen[id] {
					continue
				}
				seen[id] = true
				bugs = append(bugs, schemas.DetectedBug{
					ID:         id,
					Type:       bp.Type,
					Severity:   bp.Severity,
					FilePath:   filePath,
					Line:       1 + strings.Count(content[:loc[0]], "\n"),
					Snippet:    snippet,
					Pattern:    p.Regexp.String(),
					DetectedAt: now,
				})
			}
		}
	}
	return bugs
}

// Statistics returns the accumulated counters for this session.
func (d *Detector) Statistics() schemas.BugStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := schemas.BugStatistics{
		TotalScannedFiles: d.stats.TotalScannedFiles,
		TotalBugsDetected: d.stats.TotalBugsDetected,
		BugsByType:        make(map[schemas.BugType]int, len(d.stats.BugsByType)),
		BugsBySeverity:    make(map[schemas.Severity]int, len(d.stats.BugsBySeverity)),
	}
	for k, v := range d.stats.BugsByType {
		out.BugsByType[k] = v
	}
	for k, v := range d.stats.BugsBySeverity {
		out.BugsBySeverity[k] = v
	}
	return out
}

// BugID derives a deterministic identity from (type, file, normalized
// snippet). The same construct therefore keeps its id across scans, which is
// what makes regression comparison well-defined.
func BugID(t schemas.BugType, filePath, normalizedSnippet string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(t)+"|"+filePath+"|"+normalizedSnippet)).String()
}

// suppressed applies the false-positive filters: comment lines, lines already
// carrying the fixer's sentinel, and async errors already wrapped in
// try/catch.
func suppressed(t schemas.BugType, content string, loc []int, lineText string) bool {
	trimmed := strings.TrimSpace(lineText)
	if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") ||
		strings.HasPrefix(trimmed, "/*") || strings.HasPrefix(trimmed, "#") {
		return true
	}
	if strings.Contains(lineText, patterns.SentinelMarker) {
		return true
	}
	if t == schemas.BugAsyncError {
		// Textual enclosure: a try token before the match and a catch token
		// after it. Word-bounded, or identifiers like "registry" would
		// suppress real findings.
		if tryTokenRegex.MatchString(content[:loc[0]]) && catchTokenRegex.MatchString(content[loc[1]:]) {
			return true
		}
	}
	return false
}

// lineAt returns the full line containing byte offset off.
func lineAt(content string, off int) string {
	start := strings.LastIndexByte(content[:off], '\n') + 1
	end := strings.IndexByte(content[off:], '\n')
	if end < 0 {
		return content[start:]
	}
	return content[start : off+end]
}

// normalizeSnippet collapses whitespace so formatting churn does not change
// bug identity.
func normalizeSnippet(line string) string {
	return strings.Join(strings.Fields(line), " ")
}
