package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

func findType(bugs []schemas.DetectedBug, t schemas.BugType) []schemas.DetectedBug {
	var out []schemas.DetectedBug
	for _, b := range bugs {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}

func TestScanContentDetectsLeak(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	content := "function poll() {\n  setInterval(() => tick(), 1000);\n}\n"
	bugs := d.ScanContent("app.js", content)

	leaks := findType(bugs, schemas.BugMemoryLeak)
	require.Len(t, leaks, 1)
	assert.Equal(t, 2, leaks[0].Line)
	assert.Equal(t, schemas.SeverityHigh, leaks[0].Severity)
	assert.Equal(t, "app.js", leaks[0].FilePath)
	assert.Contains(t, leaks[0].Snippet, "setInterval")
}

func TestScanContentCounterTokenSuppresses(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	content := "const id = setInterval(tick, 1000);\nfunction stop() { clearInterval(id); }\n"
	bugs := d.ScanContent("app.js", content)
	assert.Empty(t, findType(bugs, schemas.BugMemoryLeak),
		"a file containing clearInterval must not flag setInterval")
}

func TestScanContentSkipsComments(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	content := "// setInterval(tick, 1000);\n* setInterval(tick, 1000);\n/* setInterval(tick, 1000); */\n"
	bugs := d.ScanContent("app.js", content)
	assert.Empty(t, bugs)
}

func TestScanContentSkipsSentinelLines(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	content := "setInterval(tick, 1000); // TODO(stitch): store the interval id and clearInterval on teardown\n"
	bugs := d.ScanContent("app.js", content)
	assert.Empty(t, findType(bugs, schemas.BugMemoryLeak),
		"a line already annotated by the fixer must not be re-flagged")
}

func TestScanContentAsyncErrorTryCatch(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	wrapped := "try {\n  await loadData();\n} catch (err) {\n  report(err);\n}\n"
	assert.Empty(t, findType(d.ScanContent("a.js", wrapped), schemas.BugAsyncError))

	bare := "async function main() {\n  await loadData();\n}\n"
	assert.NotEmpty(t, findType(d.ScanContent("b.js", bare), schemas.BugAsyncError))
}

func TestScanContentAsyncErrorTokensAreWordBounded(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	// "registry" and "catchAll" contain the letters but are not handlers.
	content := "registry.init();\nawait fetchData();\ncatchAll(errors);\n"
	assert.NotEmpty(t, findType(d.ScanContent("a.js", content), schemas.BugAsyncError),
		"identifiers embedding try/catch must not suppress findings")
}

func TestScanContentDeduplicatesIdenticalSnippets(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	// Same normalized snippet twice: one finding, one id.
	content := "setInterval(tick, 1000);\n  setInterval(tick,   1000);\n"
	bugs := findType(d.ScanContent("app.js", content), schemas.BugMemoryLeak)
	require.Len(t, bugs, 1)
}

func TestBugIDDeterministic(t *testing.T) {
	t.Parallel()

	a := BugID(schemas.BugMemoryLeak, "app.js", "setInterval(tick, 1000);")
	b := BugID(schemas.BugMemoryLeak, "app.js", "setInterval(tick, 1000);")
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, BugID(schemas.BugMemoryLeak, "other.js", "setInterval(tick, 1000);"))
	assert.NotEqual(t, a, BugID(schemas.BugResourceLeak, "app.js", "setInterval(tick, 1000);"))
}

func TestBugIDStableAcrossFormattingChurn(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	before := d.ScanContent("app.js", "setInterval(tick, 1000);\n")
	after := d.ScanContent("app.js", "\n\n\t  setInterval(tick,  1000);\n")
	require.Len(t, before, 1)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID,
		"whitespace and line position must not change bug identity")
}

func TestScanContentStableAcrossRuns(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	content := "setInterval(tick, 1000);\nnode.innerHTML = userInput;\n"
	first := d.ScanContent("app.js", content)
	second := d.ScanContent("app.js", content)

	diff := cmp.Diff(first, second, cmpopts.IgnoreFields(schemas.DetectedBug{}, "DetectedAt"))
	assert.Empty(t, diff, "repeated scans of identical content must agree")
}

func TestScanReadsFileAndAccumulatesStatistics(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.js")
	require.NoError(t, os.WriteFile(path, []byte(`node.innerHTML = userInput;`), 0o644))

	bugs := d.Scan(ctx, path)
	require.NotEmpty(t, bugs)

	stats := d.Statistics()
	assert.Equal(t, 1, stats.TotalScannedFiles)
	assert.Equal(t, len(bugs), stats.TotalBugsDetected)
	assert.Equal(t, 1, stats.BugsByType[schemas.BugXSSVulnerability])
	assert.Equal(t, 1, stats.BugsBySeverity[schemas.SeverityHigh])
}

func TestScanUnreadableFileYieldsNoFindings(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	bugs := d.Scan(context.Background(), filepath.Join(t.TempDir(), "missing.js"))
	assert.Empty(t, bugs)
	assert.Equal(t, 0, d.Statistics().TotalScannedFiles)
}

func TestScanCancelledContext(t *testing.T) {
	t.Parallel()
	d := New(zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, d.Scan(ctx, "app.js"))
}
