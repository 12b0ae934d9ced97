// Package git provides a Git implementation of the vcs.Backend interface.
//
// Working tree, history and network operations shell out to the git CLI so
// that user configuration, hooks and credential helpers behave exactly as
// on the command line. Clone and init use go-git, which lets credentials be
// passed in-process.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// MinVersion is the oldest git release the driver supports. Credentials are
// passed through GIT_CONFIG_COUNT, which appeared in 2.31.
const MinVersion = "v2.31.0"

const defaultBinary = "git"

func init() {
	vcs.Register(vcs.TypeGit, vcs.Driver{
		Open: func(root string, opts vcs.OpenOptions) (vcs.Backend, error) {
			return New(root, WithBinary(opts.Binary))
		},
		Clone:     Clone,
		Init:      Init,
		Available: func(opts vcs.OpenOptions) error { return CheckVersion(context.Background(), opts.Binary) },
	})
}

// Git implements vcs.Backend for git repositories.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// vcsDir is the .git directory path (the worktree git dir for worktrees)
	vcsDir string

	// binary is the git executable
	binary string
}

var _ vcs.Backend = (*Git)(nil)

// Option configures a Git instance
type Option func(*Git)

// WithBinary overrides the git executable. Empty keeps "git" from PATH.
func WithBinary(path string) Option {
	return func(g *Git) {
		if path != "" {
			g.binary = path
		}
	}
}

// New creates a new Git backend for the given repository.
// The path should be somewhere within a git repository.
func New(path string, opts ...Option) (*Git, error) {
	g := &Git{binary: defaultBinary}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Name returns the VCS type (git)
func (g *Git) Name() vcs.Type {
	return vcs.TypeGit
}

// Root returns the repository root directory path
func (g *Git) Root() string {
	return g.repoRoot
}

// ===================
// Command Execution
// ===================

// baseEnv keeps git output parseable and non-interactive
var baseEnv = []string{"LC_ALL=C", "GIT_TERMINAL_PROMPT=0"}

func (g *Git) exec(ctx context.Context, env []string, args ...string) (vcs.Output, error) {
	return vcs.Exec(ctx, vcs.Command{
		Dir:  g.repoRoot,
		Name: g.binary,
		Args: args,
		Env:  append(append([]string{}, baseEnv...), env...),
	})
}

// run executes git and returns trimmed stdout. Failures are classified into
// vcs sentinel errors where the output allows it.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	out, err := g.exec(ctx, nil, args...)
	if err != nil {
		return "", classify(args[0], out, err)
	}
	return strings.TrimRight(string(out.Stdout), "\n"), nil
}

// outputPatterns maps git diagnostics onto sentinel errors. Order matters:
// the first matching pattern wins.
var outputPatterns = []struct {
	substr string
	err    error
}{
	{"does not have any commits yet", vcs.ErrRefNotFound},
	{"unknown revision or path not in the working tree", vcs.ErrRefNotFound},
	{"bad default revision", vcs.ErrRefNotFound},
	{"Authentication failed", vcs.ErrAuthFailed},
	{"could not read Username", vcs.ErrAuthFailed},
	{"Permission denied (publickey)", vcs.ErrAuthFailed},
	{"[rejected]", vcs.ErrPushRejected},
	{"Updates were rejected", vcs.ErrPushRejected},
	{"CONFLICT", vcs.ErrConflicts},
	{"Not possible to fast-forward", vcs.ErrMergeRequired},
	{"divergent branches", vcs.ErrMergeRequired},
	{"would be overwritten", vcs.ErrDirtyWorkspace},
	{"nothing to commit", vcs.ErrNothingToCommit},
	{"nothing added to commit", vcs.ErrNothingToCommit},
	{"No such remote", vcs.ErrNoRemote},
	{"does not appear to be a git repository", vcs.ErrNoRemote},
}

func classify(op string, out vcs.Output, err error) error {
	combined := out.Combined()
	msg := lastLine(combined)
	for _, p := range outputPatterns {
		if strings.Contains(combined, p.substr) {
			return fmt.Errorf("git %s: %w: %s", op, p.err, msg)
		}
	}
	if msg == "" {
		return fmt.Errorf("git %s failed: %w", op, err)
	}
	return fmt.Errorf("git %s failed: %w: %s", op, err, msg)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// hasHead reports whether HEAD resolves to a commit
func (g *Git) hasHead(ctx context.Context) bool {
	_, err := g.exec(ctx, nil, "rev-parse", "--verify", "-q", "HEAD")
	return err == nil
}

// inProgress reports whether a marker file exists in the git dir
func (g *Git) inProgress(name string) bool {
	_, err := os.Stat(filepath.Join(g.vcsDir, name))
	return err == nil
}

// ===================
// Version
// ===================

var (
	versionMu     sync.Mutex
	versionChecks = map[string]error{}
	versionRe     = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)
)

// Version returns the git version of binary as a semver string (v2.43.0)
func Version(ctx context.Context, binary string) (string, error) {
	if binary == "" {
		binary = defaultBinary
	}
	out, err := vcs.ExecContext(ctx, 0, "", binary, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}
	return parseVersion(string(out))
}

// parseVersion turns "git version 2.39.2 (Apple Git-143)" into "v2.39.2"
func parseVersion(s string) (string, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("unrecognized git version %q", strings.TrimSpace(s))
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return "", fmt.Errorf("unrecognized git version %q", strings.TrimSpace(s))
	}
	return v, nil
}

// CheckVersion verifies that binary exists and is at least MinVersion.
// Results are remembered per binary.
func CheckVersion(ctx context.Context, binary string) error {
	if binary == "" {
		binary = defaultBinary
	}

	versionMu.Lock()
	defer versionMu.Unlock()
	if err, ok := versionChecks[binary]; ok {
		return err
	}

	err := checkVersion(ctx, binary)
	versionChecks[binary] = err
	return err
}

func checkVersion(ctx context.Context, binary string) error {
	if !vcs.IsBinaryAvailable(binary) {
		return fmt.Errorf("%s: %w", binary, vcs.ErrVCSNotAvailable)
	}
	v, err := Version(ctx, binary)
	if err != nil {
		return err
	}
	if semver.Compare(v, MinVersion) < 0 {
		return fmt.Errorf("%w: git %s is older than %s", vcs.ErrUnsupportedVersion, v, MinVersion)
	}
	return nil
}
