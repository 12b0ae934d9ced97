package git

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Fetch fetches from the specified remote, origin by default
func (g *Git) Fetch(ctx context.Context, opts vcs.FetchOptions) (vcs.TransferStats, error) {
	if !g.hasRemote(ctx) {
		return vcs.TransferStats{}, fmt.Errorf("git fetch: %w", vcs.ErrNoRemote)
	}

	remote := opts.Remote
	if remote == "" {
		remote = "origin"
	}

	return g.transfer(ctx, opts.Auth, "fetch", "--progress", "--prune", remote)
}

// Pull pulls changes from the remote into the current branch
func (g *Git) Pull(ctx context.Context, opts vcs.PullOptions) (vcs.TransferStats, error) {
	if !g.hasRemote(ctx) {
		return vcs.TransferStats{}, fmt.Errorf("git pull: %w", vcs.ErrNoRemote)
	}

	remote, branch, err := g.resolveTarget(ctx, opts.Remote, opts.Branch)
	if err != nil {
		return vcs.TransferStats{}, err
	}

	args := []string{"pull", "--progress"}
	if opts.Rebase {
		args = append(args, "--rebase")
	} else {
		args = append(args, "--no-rebase")
	}
	if opts.FFOnly {
		args = append(args, "--ff-only")
	}
	args = append(args, remote, branch)

	return g.transfer(ctx, opts.Auth, args...)
}

// Push pushes the branch to the remote
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) (vcs.TransferStats, error) {
	if !g.hasRemote(ctx) {
		return vcs.TransferStats{}, fmt.Errorf("git push: %w", vcs.ErrNoRemote)
	}

	remote, branch, err := g.resolveTarget(ctx, opts.Remote, opts.Branch)
	if err != nil {
		return vcs.TransferStats{}, err
	}

	args := []string{"push", "--progress"}
	if opts.SetUpstream {
		args = append(args, "-u")
	}
	if opts.Force {
		args = append(args, "--force-with-lease")
	}
	args = append(args, remote, branch)

	return g.transfer(ctx, opts.Auth, args...)
}

// resolveTarget fills in the remote and branch for pull and push.
// The remote defaults to the branch's configured remote, then origin.
func (g *Git) resolveTarget(ctx context.Context, remote, branch string) (string, string, error) {
	if branch == "" {
		current, err := g.CurrentBranch(ctx)
		if err != nil {
			return "", "", err
		}
		if current == "" {
			return "", "", vcs.ErrDetached
		}
		branch = current
	}

	if remote == "" {
		if out, err := g.run(ctx, "config", "--get", fmt.Sprintf("branch.%s.remote", branch)); err == nil {
			remote = strings.TrimSpace(out)
		}
		if remote == "" {
			remote = "origin"
		}
	}

	return remote, branch, nil
}

// transfer runs a network command with credentials and reports the
// transferred size parsed from git's progress output.
func (g *Git) transfer(ctx context.Context, auth *vcs.AuthConfig, args ...string) (vcs.TransferStats, error) {
	out, err := g.exec(ctx, authEnv(auth), args...)
	stats := vcs.TransferStats{Bytes: parseTransferBytes(string(out.Stderr))}
	if err != nil {
		return stats, classify(args[0], out, err)
	}
	return stats, nil
}

// authEnv injects credentials through GIT_CONFIG_* so they never appear
// in the process arguments.
func authEnv(auth *vcs.AuthConfig) []string {
	if auth == nil {
		return nil
	}

	var kv [][2]string
	if secret := auth.Secret(); secret != "" {
		user := auth.Username
		if user == "" {
			user = "x-access-token"
		}
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + secret))
		kv = append(kv, [2]string{"http.extraHeader", "Authorization: Basic " + token})
	}
	if auth.Proxy != nil && auth.Proxy.Host != "" {
		kv = append(kv, [2]string{"http.proxy", auth.Proxy.URL()})
	}

	env := []string{"GIT_CONFIG_COUNT=" + strconv.Itoa(len(kv))}
	for i, p := range kv {
		env = append(env,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", i, p[0]),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", i, p[1]))
	}

	if auth.SSHKeyPath != "" {
		env = append(env, fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %q -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", auth.SSHKeyPath))
	}
	return env
}

// progressRe matches the final size of git's object transfer progress, e.g.
// "Receiving objects: 100% (12/12), 4.20 KiB | 4.20 MiB/s, done."
var progressRe = regexp.MustCompile(`(?:Receiving|Unpacking|Writing) objects:\s+100% \(\d+/\d+\), ([\d.]+) (bytes|KiB|MiB|GiB)`)

var unitSize = map[string]float64{
	"bytes": 1,
	"KiB":   1 << 10,
	"MiB":   1 << 20,
	"GiB":   1 << 30,
}

// parseTransferBytes returns the last reported transfer size, or 0 when
// git printed none (nothing to transfer, or output was not a terminal).
func parseTransferBytes(stderr string) int64 {
	matches := progressRe.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return 0
	}
	m := matches[len(matches)-1]
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return int64(n * unitSize[m[2]])
}
