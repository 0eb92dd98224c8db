// File: internal/fixer/strategies.go
package fixer

import (
	"regexp"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

// Rule is one (pattern, replacement) pair. Replacement uses Go's $n group
// expansion. Rules that cannot safely rewrite behavior insert sentinel
// comments instead; the detector recognizes the marker and will not re-flag
// the annotated line.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Strategy is the static fix configuration for one bug type. Confidence is
// surfaced to callers for triage only; gating is solely AutoApply plus the
// external enablement map.
type Strategy struct {
	Name                   string
	BugType                schemas.BugType
	Confidence             float64
	AutoApply              bool
	RequiresSecurityReview bool
	Rules                  []Rule
}

// defaultStrategies is the built-in strategy table, one entry per bug type
// that has a mechanical fix. Types absent here are report-only.
var defaultStrategies = map[schemas.BugType]Strategy{
	schemas.BugMemoryLeak: {
		Name:       "annotate-timer-cleanup",
		BugType:    schemas.BugMemoryLeak,
		Confidence: 0.85,
		AutoApply:  true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*setInterval\s*\(.*)$`),
				Replacement: "$1 // TODO(stitch): store the interval id and clearInterval on teardown",
			},
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*addEventListener\s*\(.*)$`),
				Replacement: "$1 // TODO(stitch): removeEventListener on teardown",
			},
		},
	},
	schemas.BugResourceLeak: {
		Name:       "annotate-stream-close",
		BugType:    schemas.BugResourceLeak,
		Confidence: 0.8,
		AutoApply:  true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*create(?:Read|Write)Stream\s*\(.*)$`),
				Replacement: "$1 // TODO(stitch): close this stream when finished",
			},
		},
	},
	schemas.BugAsyncError: {
		Name:       "attach-promise-catch",
		BugType:    schemas.BugAsyncError,
		Confidence: 0.7,
		AutoApply:  true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*\.then\s*\([^\n]*\))\s*;?\s*$`),
				Replacement: "$1.catch((err) => console.error(err)); // stitch: added error handler",
			},
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*\bawait\s+[\w$.]+\s*\(.*)$`),
				Replacement: "$1 // TODO(stitch): wrap this await in try/catch",
			},
		},
	},
	schemas.BugTypeError: {
		Name:       "strict-equality",
		BugType:    schemas.BugTypeError,
		Confidence: 0.9,
		AutoApply:  true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`([^=!<>])==([^=])`),
				Replacement: "$1===$2",
			},
			{
				Pattern:     regexp.MustCompile(`([^=!<>])!=([^=])`),
				Replacement: "$1!==$2",
			},
		},
	},
	schemas.BugCryptoVulnerability: {
		// Removing a weak primitive outright breaks wire compatibility, so
		// the rule flags it in place instead of substituting an algorithm.
		Name:                   "flag-weak-crypto",
		BugType:                schemas.BugCryptoVulnerability,
		Confidence:             0.5,
		AutoApply:              true,
		RequiresSecurityReview: true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?i)(createHash\s*\(\s*['"](?:md5|sha1)['"]\s*\))`),
				Replacement: "$1 /* stitch: weak hash, migrate to sha256 */",
			},
			{
				Pattern:     regexp.MustCompile(`(?m)^(.*(?i:token|secret|password|nonce)\s*[:=][^\n]*Math\.random\s*\(.*)$`),
				Replacement: "$1 // stitch: Math.random is not cryptographically secure, use crypto.randomBytes",
			},
		},
	},
	schemas.BugSQLInjection: {
		Name:                   "parameterize-query",
		BugType:                schemas.BugSQLInjection,
		Confidence:             0.6,
		AutoApply:              false,
		RequiresSecurityReview: true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(\s*)(.*\.(?:query|execute)\s*\(.*\+.*)$`),
				Replacement: "$1// stitch: use a parameterized query instead of string concatenation\n$1$2",
			},
		},
	},
	schemas.BugXSSVulnerability: {
		Name:                   "prefer-text-content",
		BugType:                schemas.BugXSSVulnerability,
		Confidence:             0.65,
		AutoApply:              false,
		RequiresSecurityReview: true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`\.innerHTML\s*=`),
				Replacement: ".textContent =",
			},
		},
	},
	schemas.BugPathTraversal: {
		Name:                   "annotate-path-validation",
		BugType:                schemas.BugPathTraversal,
		Confidence:             0.55,
		AutoApply:              false,
		RequiresSecurityReview: true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(\s*)(.*(?i:readFile|readFileSync|writeFile|writeFileSync|sendFile|createReadStream)\s*\(.*\+\s*(?:req|request)\..*)$`),
				Replacement: "$1// stitch: validate and resolve this path against an allow-listed root\n$1$2",
			},
		},
	},
	schemas.BugCommandInjection: {
		Name:                   "annotate-exec-input",
		BugType:                schemas.BugCommandInjection,
		Confidence:             0.5,
		AutoApply:              false,
		RequiresSecurityReview: true,
		Rules: []Rule{
			{
				Pattern:     regexp.MustCompile(`(?m)^(\s*)(.*(?i:exec|execSync|spawn)\s*\(.*\+.*)$`),
				Replacement: "$1// stitch: pass arguments as an array, never concatenate into a command string\n$1$2",
			},
		},
	},
}

// Strategies returns the built-in table. Callers must not mutate it.
func Strategies() map[schemas.BugType]Strategy {
	return defaultStrategies
}
