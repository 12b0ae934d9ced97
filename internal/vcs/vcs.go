// Package vcs provides a unified interface for the version-control backend
// consumed by the sync engine.
//
// The engine never implements version-control algorithms itself. Everything
// it knows about a repository comes through a Backend obtained from a
// Factory, which detects the repository at a path and opens it with the
// driver registered for that repository type.
//
// # Architecture
//
// The Backend interface covers the operation set the engine and the CLI need:
//   - Working tree status and staging
//   - Commits and history
//   - Branches, remotes, tags and stashes
//   - Network transfers (fetch, pull, push) with credential configuration
//   - Merge, cherry-pick and conflict resolution
//   - Diff and blame
//
// # Usage
//
//	f := vcs.NewFactory()
//	b, err := f.Open("/path/to/repo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	changes, err := b.Status(ctx)
//
// # Implementations
//
//   - internal/vcs/git: git CLI driver, with go-git for clone and init
package vcs

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Type represents the VCS backend type
type Type string

const (
	// TypeGit indicates a git repository
	TypeGit Type = "git"
)

// String returns the string representation of the VCS type
func (t Type) String() string {
	return string(t)
}

// Backend defines the operations available on an opened repository.
// Implementations must be safe for concurrent use; the engine issues
// independent reads in parallel.
type Backend interface {
	// ===================
	// Identity
	// ===================

	// Name returns the VCS type
	Name() Type

	// Root returns the repository root directory path
	Root() string

	// ===================
	// Working Tree
	// ===================

	// Status returns the working tree changes. A file that has both
	// staged and unstaged modifications is reported twice.
	Status(ctx context.Context) ([]FileChange, error)

	// Stage adds the file at path to the index
	Stage(ctx context.Context, path string) error

	// Unstage removes the file at path from the index, keeping the working copy
	Unstage(ctx context.Context, path string) error

	// Discard drops the working tree modifications of path
	Discard(ctx context.Context, path string) error

	// Diff returns the unified diff of path, against the index or HEAD
	Diff(ctx context.Context, path string, staged bool) (string, error)

	// ===================
	// History
	// ===================

	// Commit records the index and returns the new commit hash
	Commit(ctx context.Context, message string) (string, error)

	// Log returns up to maxCount commits reachable from HEAD, skipping
	// the first skip. An unborn HEAD yields an error wrapping ErrRefNotFound.
	Log(ctx context.Context, maxCount, skip int) ([]Commit, error)

	// Blame returns per-line authorship of path at HEAD
	Blame(ctx context.Context, path string) ([]BlameLine, error)

	// ===================
	// Branches
	// ===================

	// Branches returns local and remote-tracking branches
	Branches(ctx context.Context) ([]Branch, error)

	// CurrentBranch returns the checked out branch. Returns empty string
	// on a detached HEAD.
	CurrentBranch(ctx context.Context) (string, error)

	// CreateBranch creates name at base. If base is empty, HEAD is used.
	CreateBranch(ctx context.Context, name, base string) error

	// DeleteBranch deletes a local branch
	DeleteBranch(ctx context.Context, name string, force bool) error

	// Checkout switches the working tree to the named branch
	Checkout(ctx context.Context, name string) error

	// ===================
	// Remotes
	// ===================

	Remotes(ctx context.Context) ([]Remote, error)
	AddRemote(ctx context.Context, name, url string) error
	RemoveRemote(ctx context.Context, name string) error

	// Fetch, Pull and Push report the number of bytes transferred when the
	// backend can measure it. A zero TransferStats means unknown.
	Fetch(ctx context.Context, opts FetchOptions) (TransferStats, error)
	Pull(ctx context.Context, opts PullOptions) (TransferStats, error)
	Push(ctx context.Context, opts PushOptions) (TransferStats, error)

	// ===================
	// Merge & Conflicts
	// ===================

	// Merge merges branch into the current branch and returns the backend
	// summary. Conflicts are reported as ErrConflicts.
	Merge(ctx context.Context, branch string) (string, error)

	// CherryPick applies a single commit on top of HEAD
	CherryPick(ctx context.Context, hash string) error

	// Conflicts lists unmerged paths with the three sides of each
	Conflicts(ctx context.Context) ([]Conflict, error)

	// ResolveConflict resolves path and marks it merged. content is only
	// used with ResolveManual.
	ResolveConflict(ctx context.Context, path string, resolution Resolution, content string) error

	// AbortMerge abandons an in-progress merge or cherry-pick
	AbortMerge(ctx context.Context) error

	// ===================
	// Stash & Tags
	// ===================

	StashSave(ctx context.Context, message string) error
	Stashes(ctx context.Context) ([]Stash, error)
	StashPop(ctx context.Context, index int) error
	StashDrop(ctx context.Context, index int) error

	Tags(ctx context.Context) ([]Tag, error)

	// CreateTag creates a lightweight tag, or an annotated one when
	// message is not empty
	CreateTag(ctx context.Context, name, message string) error
	DeleteTag(ctx context.Context, name string) error
}

// ChangeKind describes how a file differs from the committed tree.
type ChangeKind string

const (
	ChangeModified  ChangeKind = "modified"
	ChangeAdded     ChangeKind = "added"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeRenamed   ChangeKind = "renamed"
	ChangeUntracked ChangeKind = "untracked"
)

// StatusCode represents a porcelain status letter
type StatusCode string

const (
	StatusUnmodified StatusCode = " "
	StatusModified   StatusCode = "M"
	StatusAdded      StatusCode = "A"
	StatusDeleted    StatusCode = "D"
	StatusRenamed    StatusCode = "R"
	StatusCopied     StatusCode = "C"
	StatusUntracked  StatusCode = "?"
	StatusIgnored    StatusCode = "!"
	StatusUnmerged   StatusCode = "U"
)

// Kind maps a status letter onto the change kinds shown to users.
func (c StatusCode) Kind() ChangeKind {
	switch c {
	case StatusAdded, StatusCopied:
		return ChangeAdded
	case StatusDeleted:
		return ChangeDeleted
	case StatusRenamed:
		return ChangeRenamed
	case StatusUntracked:
		return ChangeUntracked
	default:
		return ChangeModified
	}
}

// DiffStats counts changed lines of a file
type DiffStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

// FileChange is one entry of the working tree status
type FileChange struct {
	Path       string     `json:"path"`
	Kind       ChangeKind `json:"status"`
	Staged     bool       `json:"staged"`
	DiffStatus StatusCode `json:"diffStatus,omitempty"`
	Stats      *DiffStats `json:"stats,omitempty"`
}

// Commit is a single history entry
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Parents []string  `json:"parents"`
}

// Branch describes a local or remote-tracking branch
type Branch struct {
	Name       string `json:"name"`
	IsHead     bool   `json:"isHead"`
	IsRemote   bool   `json:"isRemote"`
	Upstream   string `json:"upstream,omitempty"`
	LastCommit string `json:"lastCommit,omitempty"`
}

// Conflict holds the three sides of an unmerged path
type Conflict struct {
	Path   string `json:"path"`
	Ours   string `json:"ours"`
	Theirs string `json:"theirs"`
	Base   string `json:"base,omitempty"`
}

// Resolution selects how a conflict is resolved
type Resolution string

const (
	ResolveOurs   Resolution = "ours"
	ResolveTheirs Resolution = "theirs"
	ResolveManual Resolution = "manual"
)

// Remote is a configured remote repository
type Remote struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Tag is a named pointer to a commit
type Tag struct {
	Name    string    `json:"name"`
	Hash    string    `json:"hash"`
	Message string    `json:"message,omitempty"`
	Date    time.Time `json:"date"`
}

// Stash is one entry of the stash list
type Stash struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
	Hash    string `json:"hash"`
}

// BlameLine is the authorship of one line
type BlameLine struct {
	Line    int       `json:"line"`
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Content string    `json:"content"`
}

// TransferStats reports what a network operation moved
type TransferStats struct {
	// Bytes is the measured transfer size, or 0 when the backend cannot tell
	Bytes int64
}

// ===================
// Credentials
// ===================

// ProxyConfig routes network operations through a proxy
type ProxyConfig struct {
	Type     string `json:"type"` // http, https or socks5
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// URL renders the proxy as a URL suitable for http.proxy
func (p ProxyConfig) URL() string {
	scheme := p.Type
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: p.Host + ":" + strconv.Itoa(p.Port)}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String()
}

// AuthConfig carries the credentials used by fetch, pull, push and clone
type AuthConfig struct {
	Username   string
	Password   string
	Token      string
	SSHKeyPath string
	Proxy      *ProxyConfig
}

// Secret returns the token if present, otherwise the password
func (a *AuthConfig) Secret() string {
	if a == nil {
		return ""
	}
	if a.Token != "" {
		return a.Token
	}
	return a.Password
}

// String hides credentials so an AuthConfig can be logged
func (a *AuthConfig) String() string {
	if a == nil {
		return "none"
	}
	return fmt.Sprintf("user=%q secret=%t ssh=%t proxy=%t", a.Username, a.Secret() != "", a.SSHKeyPath != "", a.Proxy != nil)
}

// FetchOptions configures Fetch
type FetchOptions struct {
	Remote string
	Auth   *AuthConfig
}

// PullOptions configures Pull
type PullOptions struct {
	// Remote defaults to the branch's configured remote, then origin
	Remote string

	// Branch defaults to the current branch
	Branch string

	Rebase bool
	FFOnly bool
	Auth   *AuthConfig
}

// PushOptions configures Push
type PushOptions struct {
	Remote      string
	Branch      string
	SetUpstream bool
	Force       bool
	Auth        *AuthConfig
}

// CloneOptions configures a driver's Clone
type CloneOptions struct {
	URL    string
	Path   string
	Branch string
	Auth   *AuthConfig
}

// InitOptions configures a driver's Init
type InitOptions struct {
	DefaultBranch string
	Bare          bool
}
