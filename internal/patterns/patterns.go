// Package patterns holds the static bug signature library. The table is
// compiled once at init and never mutated; callers treat it as read-only.
package patterns

import (
	"regexp"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

// SentinelMarker tags every comment the fixer inserts. The detector skips
// lines carrying it so an applied fix is never re-detected as a fresh match.
const SentinelMarker = "stitch:"

// Pattern is one lexical signature belonging to a BugPattern.
type Pattern struct {
	Regexp *regexp.Regexp
	// CounterToken suppresses all matches of this pattern when the token
	// appears anywhere in the scanned file. Used for paired constructs:
	// a setInterval is only a leak when no clearInterval exists.
	CounterToken string
}

// BugPattern groups the signatures, severity, and description for one bug
// class. One entry per schemas.BugType.
type BugPattern struct {
	Type        schemas.BugType
	Severity    schemas.Severity
	Description string
	Patterns    []Pattern
}

var library = []BugPattern{
	{
		Type:        schemas.BugMemoryLeak,
		Severity:    schemas.SeverityHigh,
		Description: "Timer or listener registered without a matching cleanup call",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`setInterval\s*\(`), CounterToken: "clearInterval"},
			{Regexp: regexp.MustCompile(`addEventListener\s*\(`), CounterToken: "removeEventListener"},
		},
	},
	{
		Type:        schemas.BugSQLInjection,
		Severity:    schemas.SeverityCritical,
		Description: "SQL statement assembled from string concatenation or interpolation",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`(?i)\.(query|execute)\s*\(\s*['"\x60][^'"\x60]*['"\x60]\s*\+`)},
			{Regexp: regexp.MustCompile(`(?i)['"\x60]\s*(SELECT|INSERT|UPDATE|DELETE)\b[^'"\x60]*\$\{`)},
		},
	},
	{
		Type:        schemas.BugXSSVulnerability,
		Severity:    schemas.SeverityHigh,
		Description: "Unescaped data written into the DOM",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`\.innerHTML\s*=\s*[^'"\x60\n;]+`)},
			{Regexp: regexp.MustCompile(`document\.write\s*\(`)},
		},
	},
	{
		Type:        schemas.BugResourceLeak,
		Severity:    schemas.SeverityMedium,
		Description: "Stream or handle opened without a matching close",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`createReadStream\s*\(`), CounterToken: "close"},
			{Regexp: regexp.MustCompile(`createWriteStream\s*\(`), CounterToken: "close"},
		},
	},
	{
		Type:        schemas.BugAsyncError,
		Severity:    schemas.SeverityMedium,
		Description: "Awaited or chained promise without error handling",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`await\s+[\w$.]+\s*\(`)},
			{Regexp: regexp.MustCompile(`\.then\s*\(`), CounterToken: ".catch("},
		},
	},
	{
		Type:        schemas.BugTypeError,
		Severity:    schemas.SeverityLow,
		Description: "Loose equality comparison subject to type coercion",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`[^=!<>]==[^=]`)},
			{Regexp: regexp.MustCompile(`[^=!<>]!=[^=]`)},
		},
	},
	{
		Type:        schemas.BugCryptoVulnerability,
		Severity:    schemas.SeverityCritical,
		Description: "Weak cryptographic primitive or low-entropy random source",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`(?i)createHash\s*\(\s*['"](md5|sha1)['"]\s*\)`)},
			{Regexp: regexp.MustCompile(`(?i)(token|secret|password|nonce)\s*[:=][^\n]*Math\.random\s*\(`)},
		},
	},
	{
		Type:        schemas.BugPathTraversal,
		Severity:    schemas.SeverityCritical,
		Description: "Filesystem access built from unvalidated request input",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`(?i)(readFile|readFileSync|writeFile|writeFileSync|sendFile|createReadStream)\s*\([^)\n]*\+\s*(req|request)\.`)},
			{Regexp: regexp.MustCompile(`(?i)path\.join\s*\([^)\n]*(req|request)\.(params|query|body)`)},
		},
	},
	{
		Type:        schemas.BugCommandInjection,
		Severity:    schemas.SeverityCritical,
		Description: "Child process command assembled from dynamic input",
		Patterns: []Pattern{
			{Regexp: regexp.MustCompile(`(?i)(exec|execSync|spawnSync?)\s*\([^)\n]*\+`)},
			{Regexp: regexp.MustCompile(`(?i)(exec|execSync)\s*\(\s*\x60[^\x60\n]*\$\{`)},
		},
	},
}

// index is built once so Lookup stays O(1) on the hot scan path.
var index = func() map[schemas.BugType]*BugPattern {
	m := make(map[schemas.BugType]*BugPattern, len(library))
	for i := range library {
		m[library[i].Type] = &library[i]
	}
	return m
}()

// Library returns the full signature table. Callers must not mutate it.
func Library() []BugPattern {
	return library
}

// Lookup returns the BugPattern for a bug type, if one is registered.
func Lookup(t schemas.BugType) (*BugPattern, bool) {
	bp, ok := index[t]
	return bp, ok
}
