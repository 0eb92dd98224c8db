// File: internal/sandbox/spawn.go
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stitch-cli/api/schemas"
)

// Deny-list for command arguments. Anything matching aborts before spawning.
var (
	shellMetaRegex = regexp.MustCompile("[;&|`$<>\n\r]")
	traversalRegex = regexp.MustCompile(`\.\.[/\\]`)
	urlSchemeRegex = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
)

// SafeSpawn executes an allow-listed command with validated arguments. The
// child never sees a shell, inherits a rebuilt environment, and is bounded by
// a two-stage timeout: a graceful termination signal, then a forced kill
// after the configured grace period.
func (e *Executor) SafeSpawn(ctx context.Context, command string, args []string) (*schemas.SpawnResult, error) {
	if args == nil && strings.ContainsAny(command, " \t") {
		// String form: tokenize ourselves rather than handing it to a shell.
		tokens := Tokenize(command)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("%w: empty command line", ErrCommandNotAllowed)
		}
		command, args = tokens[0], tokens[1:]
	}

	if !e.commandAllowed(command) {
		e.recordWarning("command_not_allowed", command, "command is not on the allow-list", "command_allowlist")
		return nil, fmt.Errorf("%w: %q", ErrCommandNotAllowed, command)
	}

	for _, arg := range args {
		if reason := e.argumentRejection(arg); reason != "" {
			e.recordWarning("dangerous_argument", arg, reason, "argument_denylist")
			return nil, fmt.Errorf("%w: %q: %s", ErrArgumentRejected, arg, reason)
		}
	}

	timeout := e.cfg.CommandExecution.DefaultTimeout
	if timeout > e.cfg.CommandExecution.MaxTimeout {
		timeout = e.cfg.CommandExecution.MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = e.projectRoot
	cmd.Env = e.buildEnv()
	// Escalation: SIGTERM on cancellation, SIGKILL once WaitDelay elapses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.cfg.CommandExecution.GracePeriod

	maxOut := e.cfg.CommandExecution.MaxOutputSize
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{buf: &stdout, max: maxOut}
	cmd.Stderr = &cappedWriter{buf: &stderr, max: maxOut}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &schemas.SpawnResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: duration.Milliseconds(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	// Every completed invocation is audited, success or not.
	e.audit.Info("Sandboxed command finished",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", duration),
	)

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command %q timed out after %s", command, timeout)
	}
	if runErr != nil {
		return result, fmt.Errorf("command %q failed: %w: %s", command, runErr, strings.TrimSpace(stderr.String()))
	}
	return result, nil
}

// commandAllowed matches the command's base name against the allow-list, so
// both "node" and "/usr/bin/node" resolve to the same decision.
func (e *Executor) commandAllowed(command string) bool {
	base := filepath.Base(command)
	for _, allowed := range e.cfg.AllowedCommands {
		if base == allowed {
			return true
		}
	}
	return false
}

// argumentRejection returns a non-empty reason when the argument is unsafe.
func (e *Executor) argumentRejection(arg string) string {
	switch {
	case shellMetaRegex.MatchString(arg):
		return "contains shell metacharacters"
	case traversalRegex.MatchString(arg):
		return "contains relative traversal"
	case urlSchemeRegex.MatchString(arg):
		return "contains a URL scheme"
	case filepath.IsAbs(arg) && !e.absoluteArgAllowed(arg):
		return "absolute path outside allowed prefixes"
	}
	return ""
}

func (e *Executor) absoluteArgAllowed(arg string) bool {
	cleaned := filepath.Clean(arg)
	if strings.HasPrefix(cleaned, e.projectRoot+string(filepath.Separator)) || cleaned == e.projectRoot {
		return true
	}
	prefix := e.cfg.PathValidation.AllowedTempPrefix
	return prefix != "" && strings.HasPrefix(cleaned, filepath.Clean(prefix)+string(filepath.Separator))
}

// buildEnv constructs the child environment from the configured allow-list
// minus the block-list. Nothing is inherited wholesale; dynamic-linker
// injection variables never reach the child even if explicitly allowed.
func (e *Executor) buildEnv() []string {
	blocked := make(map[string]bool, len(e.cfg.EnvironmentVariables.Blocked))
	for _, name := range e.cfg.EnvironmentVariables.Blocked {
		blocked[name] = true
	}
	env := make([]string, 0, len(e.cfg.EnvironmentVariables.Allowed))
	for _, name := range e.cfg.EnvironmentVariables.Allowed {
		if blocked[name] {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// Tokenize splits a command line into tokens with shell-style quoting rules
// (single quotes literal, double quotes with backslash escapes) without ever
// invoking a shell.
func Tokenize(line string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune
	escaped := false
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
				// Closing quote keeps the token open: `a"b"c` is one token.
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// cappedWriter bounds captured output so a runaway child cannot exhaust
// memory. Excess bytes are dropped, not an error.
type cappedWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if w.max > 0 && w.buf.Len() < w.max {
		remaining := w.max - w.buf.Len()
		if len(p) > remaining {
			w.buf.Write(p[:remaining])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
