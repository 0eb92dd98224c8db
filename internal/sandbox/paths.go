// File: internal/sandbox/paths.go
package sandbox

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SanitizePath resolves a caller-supplied path to a real filesystem path and
// guarantees it lives under the project root. Every rejection is recorded as
// a SecurityWarning tagged with the stage that caught it.
//
// The pipeline: URL-decode (bounded), NFKC-normalize, strip NULs, unify
// separators, resolve against the root, then chase symlinks and re-verify.
func (e *Executor) SanitizePath(userPath string) (string, error) {
	decoded := e.urlDecode(userPath)

	// NFKC collapses homoglyph tricks such as fullwidth slashes and dots
	// into their ASCII forms before any structural checks run.
	cleaned := norm.NFKC.String(decoded)
	cleaned = strings.ReplaceAll(cleaned, "\x00", "")
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	cleaned = filepath.FromSlash(cleaned)

	abs := cleaned
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(e.projectRoot, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(e.projectRoot, abs)
	if err != nil || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		e.recordWarning("path_traversal", userPath, "resolved path escapes the project root", "relative_path_check")
		return "", fmt.Errorf("%w: %q escapes project root", ErrPathTraversal, userPath)
	}

	real, err := e.resolveSymlinks(abs)
	if err != nil {
		e.recordWarning("path_traversal", userPath, err.Error(), "symlink_resolution")
		return "", fmt.Errorf("%w: %q: %v", ErrPathTraversal, userPath, err)
	}

	rel, err = filepath.Rel(e.projectRoot, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		e.recordWarning("path_traversal", userPath, "symlink target escapes the project root", "symlink_escape_check")
		return "", fmt.Errorf("%w: %q resolves outside project root", ErrPathTraversal, userPath)
	}

	return real, nil
}

// urlDecode unmasks multiply-encoded sequences. It stops as soon as a pass is
// a no-op, fails to decode, or the configured iteration cap is reached.
// PathUnescape rather than QueryUnescape: "+" is a legal filename byte, not
// form encoding for a space.
func (e *Executor) urlDecode(p string) string {
	current := p
	for i := 0; i < e.cfg.PathValidation.MaxDecodeIterations; i++ {
		next, err := url.PathUnescape(current)
		if err != nil || next == current {
			break
		}
		current = next
	}
	return current
}

// resolveSymlinks returns the real path for the target, or for its parent
// directory when the target does not exist yet (the fixer writes new files).
func (e *Executor) resolveSymlinks(abs string) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return "", fmt.Errorf("parent directory unresolvable: %v", err)
	}
	return filepath.Join(parent, filepath.Base(abs)), nil
}
