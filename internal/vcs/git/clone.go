package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Clone clones opts.URL into opts.Path
func Clone(ctx context.Context, opts vcs.CloneOptions) error {
	if opts.URL == "" || opts.Path == "" {
		return fmt.Errorf("clone requires a URL and a destination path")
	}

	auth, err := authMethod(opts.Auth)
	if err != nil {
		return err
	}

	cloneOpts := &gogit.CloneOptions{
		URL:  opts.URL,
		Auth: auth,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}
	if opts.Auth != nil && opts.Auth.Proxy != nil && opts.Auth.Proxy.Host != "" {
		cloneOpts.ProxyOptions = transport.ProxyOptions{
			URL:      opts.Auth.Proxy.URL(),
			Username: opts.Auth.Proxy.Username,
			Password: opts.Auth.Proxy.Password,
		}
	}

	if _, err := gogit.PlainCloneContext(ctx, opts.Path, false, cloneOpts); err != nil {
		return wrapGoGitError("clone", err)
	}
	return nil
}

// Init creates an empty repository at path with the given default branch
func Init(ctx context.Context, path string, opts vcs.InitOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	branch := opts.DefaultBranch
	if branch == "" {
		branch = "main"
	}

	_, err := gogit.PlainInitWithOptions(path, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(branch),
		},
		Bare: opts.Bare,
	})
	if err != nil {
		return wrapGoGitError("init", err)
	}
	return nil
}

// authMethod converts credentials to a go-git transport.AuthMethod.
// SSH keys take precedence over HTTP credentials.
func authMethod(auth *vcs.AuthConfig) (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	if auth.SSHKeyPath != "" {
		keys, err := gitssh.NewPublicKeysFromFile("git", auth.SSHKeyPath, auth.Password)
		if err != nil {
			return nil, fmt.Errorf("load ssh key %s: %w", auth.SSHKeyPath, err)
		}
		return keys, nil
	}

	if secret := auth.Secret(); secret != "" {
		user := auth.Username
		if user == "" {
			user = "x-access-token"
		}
		return &githttp.BasicAuth{Username: user, Password: secret}, nil
	}

	return nil, nil
}

func wrapGoGitError(op string, err error) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("git %s: %w: %v", op, vcs.ErrAuthFailed, err)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return fmt.Errorf("git %s: %w: %v", op, vcs.ErrNoRemote, err)
	case errors.Is(err, gogit.ErrRepositoryAlreadyExists):
		return fmt.Errorf("git %s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("git %s: %w", op, vcs.ErrTimeout)
	}
	return fmt.Errorf("git %s failed: %w", op, err)
}
