package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// Command describes one invocation of a VCS binary
type Command struct {
	Dir     string
	Name    string
	Args    []string
	Env     []string // appended to the current environment
	Stdin   io.Reader
	Timeout time.Duration
}

// Output holds the captured streams of a finished command
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Combined returns stdout followed by stderr, trimmed
func (o Output) Combined() string {
	stdout := strings.TrimSpace(string(o.Stdout))
	stderr := strings.TrimSpace(string(o.Stderr))
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	}
	return stdout + "\n" + stderr
}

// Exec runs a VCS command with timeout and context support.
// Context expiry is reported as ErrTimeout; other failures include stderr.
//
// Example:
//
//	out, err := Exec(ctx, Command{Dir: root, Name: "git", Args: []string{"status", "--porcelain"}})
func Exec(ctx context.Context, c Command) (Output, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out, fmt.Errorf("%s %s: %w", c.Name, firstArg(c.Args), ErrTimeout)
		}
		return out, ctxErr
	}

	if errors.Is(err, exec.ErrNotFound) {
		return out, fmt.Errorf("%s: %w", c.Name, ErrVCSNotAvailable)
	}

	if stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// ExecContext executes a command and returns its stdout.
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	out, err := Exec(ctx, Command{Dir: workDir, Name: name, Args: args, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	return out.Stdout, nil
}

func firstArg(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// SplitRecords splits output on sep, dropping empty records and the
// newline git prints between formatted records.
func SplitRecords(output []byte, sep string) []string {
	var records []string
	for _, r := range strings.Split(string(output), sep) {
		r = strings.TrimLeft(r, "\n")
		if r != "" {
			records = append(records, r)
		}
	}
	return records
}

// ===================
// Path Utilities
// ===================

// IsSubPath returns true if target is inside base directory.
func IsSubPath(base, target string) bool {
	relPath, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator))
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
