// Package vcstest provides an in-memory vcs.Backend for tests of packages
// built on top of the vcs abstraction.
package vcstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gitdeck/gitdeck/internal/vcs"
)

// Operation names accepted by FailOn, OnCall and Calls. They match the
// Backend method names in kebab case.
const (
	OpStatus        = "status"
	OpStage         = "stage"
	OpUnstage       = "unstage"
	OpDiscard       = "discard"
	OpDiff          = "diff"
	OpCommit        = "commit"
	OpLog           = "log"
	OpBlame         = "blame"
	OpBranches      = "branches"
	OpCurrentBranch = "current-branch"
	OpCreateBranch  = "create-branch"
	OpDeleteBranch  = "delete-branch"
	OpCheckout      = "checkout"
	OpRemotes       = "remotes"
	OpAddRemote     = "add-remote"
	OpRemoveRemote  = "remove-remote"
	OpFetch         = "fetch"
	OpPull          = "pull"
	OpPush          = "push"
	OpMerge         = "merge"
	OpCherryPick    = "cherry-pick"
	OpConflicts     = "conflicts"
	OpResolve       = "resolve-conflict"
	OpAbortMerge    = "abort-merge"
	OpStashSave     = "stash-save"
	OpStashes       = "stashes"
	OpStashPop      = "stash-pop"
	OpStashDrop     = "stash-drop"
	OpTags          = "tags"
	OpCreateTag     = "create-tag"
	OpDeleteTag     = "delete-tag"
)

// Fake is an in-memory repository. Exported fields seed its state and may
// be read after the test; guard concurrent access with Lock/Unlock.
type Fake struct {
	RootPath string

	Changes      []vcs.FileChange
	History      []vcs.Commit // newest first; empty means an unborn HEAD
	BranchList   []vcs.Branch
	Current      string
	ConflictList []vcs.Conflict
	RemoteList   []vcs.Remote
	TagList      []vcs.Tag
	StashList    []vcs.Stash
	Transfer     vcs.TransferStats

	// LastAuth is the AuthConfig passed to the most recent network call
	LastAuth *vcs.AuthConfig

	mu    sync.Mutex
	errs  map[string]error
	hooks map[string]func(ctx context.Context)
	calls map[string]int
}

var _ vcs.Backend = (*Fake)(nil)

// New returns an empty repository on branch main
func New(root string) *Fake {
	return &Fake{
		RootPath:   root,
		Current:    "main",
		BranchList: []vcs.Branch{{Name: "main"}},
		errs:       map[string]error{},
		hooks:      map[string]func(ctx context.Context){},
		calls:      map[string]int{},
	}
}

// Lock guards the exported fields against concurrent backend calls
func (f *Fake) Lock() { f.mu.Lock() }

// Unlock releases Lock
func (f *Fake) Unlock() { f.mu.Unlock() }

// FailOn makes op return err until cleared with a nil err
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// OnCall runs fn at the start of every op call, outside the lock.
// Useful to advance a simulated clock or block until a signal.
func (f *Fake) OnCall(op string, fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = fn
}

// Calls returns how many times op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// AddCommits prepends n commits to History
func (f *Fake) AddCommits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.commitLocked(fmt.Sprintf("commit %d", len(f.History)+1))
	}
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	hook := f.hooks[op]
	err := f.errs[op]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (f *Fake) commitLocked(message string) string {
	hash := fmt.Sprintf("%040x", len(f.History)+1)
	var parents []string
	if len(f.History) > 0 {
		parents = []string{f.History[0].Hash}
	}
	f.History = append([]vcs.Commit{{
		Hash:    hash,
		Message: message,
		Author:  "Test User",
		Email:   "test@example.com",
		Date:    time.Date(2024, 1, 1, 0, 0, len(f.History), 0, time.UTC),
		Parents: parents,
	}}, f.History...)
	return hash
}

func (f *Fake) Name() vcs.Type { return vcs.TypeGit }
func (f *Fake) Root() string   { return f.RootPath }

func (f *Fake) Status(ctx context.Context) ([]vcs.FileChange, error) {
	if err := f.enter(ctx, OpStatus); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.FileChange{}, f.Changes...), nil
}

func (f *Fake) setStaged(path string, staged bool) {
	for i := range f.Changes {
		if f.Changes[i].Path == path {
			f.Changes[i].Staged = staged
		}
	}
}

func (f *Fake) Stage(ctx context.Context, path string) error {
	if err := f.enter(ctx, OpStage); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStaged(path, true)
	return nil
}

func (f *Fake) Unstage(ctx context.Context, path string) error {
	if err := f.enter(ctx, OpUnstage); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStaged(path, false)
	return nil
}

func (f *Fake) Discard(ctx context.Context, path string) error {
	if err := f.enter(ctx, OpDiscard); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Changes[:0]
	for _, c := range f.Changes {
		if c.Path != path || c.Staged {
			kept = append(kept, c)
		}
	}
	f.Changes = kept
	return nil
}

func (f *Fake) Diff(ctx context.Context, path string, staged bool) (string, error) {
	if err := f.enter(ctx, OpDiff); err != nil {
		return "", err
	}
	return fmt.Sprintf("diff --git a/%s b/%s\n", path, path), nil
}

func (f *Fake) Commit(ctx context.Context, message string) (string, error) {
	if err := f.enter(ctx, OpCommit); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept []vcs.FileChange
	staged := 0
	for _, c := range f.Changes {
		if c.Staged {
			staged++
			continue
		}
		kept = append(kept, c)
	}
	if staged == 0 {
		return "", vcs.ErrNothingToCommit
	}
	f.Changes = kept
	return f.commitLocked(message), nil
}

func (f *Fake) Log(ctx context.Context, maxCount, skip int) ([]vcs.Commit, error) {
	if err := f.enter(ctx, OpLog); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.History) == 0 {
		return nil, fmt.Errorf("git log: %w: your current branch '%s' does not have any commits yet", vcs.ErrRefNotFound, f.Current)
	}
	if skip >= len(f.History) {
		return []vcs.Commit{}, nil
	}
	end := len(f.History)
	if maxCount > 0 && skip+maxCount < end {
		end = skip + maxCount
	}
	return append([]vcs.Commit{}, f.History[skip:end]...), nil
}

func (f *Fake) Blame(ctx context.Context, path string) ([]vcs.BlameLine, error) {
	if err := f.enter(ctx, OpBlame); err != nil {
		return nil, err
	}
	return []vcs.BlameLine{}, nil
}

func (f *Fake) Branches(ctx context.Context) ([]vcs.Branch, error) {
	if err := f.enter(ctx, OpBranches); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]vcs.Branch, len(f.BranchList))
	for i, b := range f.BranchList {
		b.IsHead = !b.IsRemote && b.Name == f.Current
		out[i] = b
	}
	return out, nil
}

func (f *Fake) CurrentBranch(ctx context.Context) (string, error) {
	if err := f.enter(ctx, OpCurrentBranch); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Current, nil
}

func (f *Fake) branchIndex(name string) int {
	for i, b := range f.BranchList {
		if b.Name == name {
			return i
		}
	}
	return -1
}

func (f *Fake) CreateBranch(ctx context.Context, name, base string) error {
	if err := f.enter(ctx, OpCreateBranch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchIndex(name) >= 0 {
		return fmt.Errorf("branch %s: %w", name, vcs.ErrRefExists)
	}
	f.BranchList = append(f.BranchList, vcs.Branch{Name: name})
	return nil
}

func (f *Fake) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := f.enter(ctx, OpDeleteBranch); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.branchIndex(name)
	if i < 0 {
		return fmt.Errorf("branch %s: %w", name, vcs.ErrRefNotFound)
	}
	f.BranchList = append(f.BranchList[:i], f.BranchList[i+1:]...)
	return nil
}

func (f *Fake) Checkout(ctx context.Context, name string) error {
	if err := f.enter(ctx, OpCheckout); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchIndex(name) < 0 {
		return fmt.Errorf("branch %s: %w", name, vcs.ErrRefNotFound)
	}
	f.Current = name
	return nil
}

func (f *Fake) Remotes(ctx context.Context) ([]vcs.Remote, error) {
	if err := f.enter(ctx, OpRemotes); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Remote{}, f.RemoteList...), nil
}

func (f *Fake) AddRemote(ctx context.Context, name, url string) error {
	if err := f.enter(ctx, OpAddRemote); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemoteList = append(f.RemoteList, vcs.Remote{Name: name, URL: url})
	return nil
}

func (f *Fake) RemoveRemote(ctx context.Context, name string) error {
	if err := f.enter(ctx, OpRemoveRemote); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.RemoteList {
		if r.Name == name {
			f.RemoteList = append(f.RemoteList[:i], f.RemoteList[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remote %s: %w", name, vcs.ErrNoRemote)
}

func (f *Fake) network(ctx context.Context, op string, auth *vcs.AuthConfig) (vcs.TransferStats, error) {
	if err := f.enter(ctx, op); err != nil {
		return vcs.TransferStats{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LastAuth = auth
	return f.Transfer, nil
}

func (f *Fake) Fetch(ctx context.Context, opts vcs.FetchOptions) (vcs.TransferStats, error) {
	return f.network(ctx, OpFetch, opts.Auth)
}

func (f *Fake) Pull(ctx context.Context, opts vcs.PullOptions) (vcs.TransferStats, error) {
	return f.network(ctx, OpPull, opts.Auth)
}

func (f *Fake) Push(ctx context.Context, opts vcs.PushOptions) (vcs.TransferStats, error) {
	return f.network(ctx, OpPush, opts.Auth)
}

func (f *Fake) Merge(ctx context.Context, branch string) (string, error) {
	if err := f.enter(ctx, OpMerge); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ConflictList) > 0 {
		return "", fmt.Errorf("git merge: %w", vcs.ErrConflicts)
	}
	f.commitLocked("Merge branch '" + branch + "'")
	return "Merge made by the 'ort' strategy.", nil
}

func (f *Fake) CherryPick(ctx context.Context, hash string) error {
	if err := f.enter(ctx, OpCherryPick); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitLocked("cherry-pick " + hash)
	return nil
}

func (f *Fake) Conflicts(ctx context.Context) ([]vcs.Conflict, error) {
	if err := f.enter(ctx, OpConflicts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Conflict{}, f.ConflictList...), nil
}

func (f *Fake) ResolveConflict(ctx context.Context, path string, resolution vcs.Resolution, content string) error {
	if err := f.enter(ctx, OpResolve); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.ConflictList {
		if c.Path == path {
			f.ConflictList = append(f.ConflictList[:i], f.ConflictList[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s is not in conflict", path)
}

func (f *Fake) AbortMerge(ctx context.Context) error {
	if err := f.enter(ctx, OpAbortMerge); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConflictList = nil
	return nil
}

func (f *Fake) StashSave(ctx context.Context, message string) error {
	if err := f.enter(ctx, OpStashSave); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StashList = append([]vcs.Stash{{Message: message}}, f.StashList...)
	for i := range f.StashList {
		f.StashList[i].Index = i
	}
	f.Changes = nil
	return nil
}

func (f *Fake) Stashes(ctx context.Context) ([]vcs.Stash, error) {
	if err := f.enter(ctx, OpStashes); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Stash{}, f.StashList...), nil
}

func (f *Fake) dropStash(index int) error {
	if index < 0 || index >= len(f.StashList) {
		return fmt.Errorf("stash@{%d}: %w", index, vcs.ErrRefNotFound)
	}
	f.StashList = append(f.StashList[:index], f.StashList[index+1:]...)
	for i := range f.StashList {
		f.StashList[i].Index = i
	}
	return nil
}

func (f *Fake) StashPop(ctx context.Context, index int) error {
	if err := f.enter(ctx, OpStashPop); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropStash(index)
}

func (f *Fake) StashDrop(ctx context.Context, index int) error {
	if err := f.enter(ctx, OpStashDrop); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropStash(index)
}

func (f *Fake) Tags(ctx context.Context) ([]vcs.Tag, error) {
	if err := f.enter(ctx, OpTags); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]vcs.Tag{}, f.TagList...), nil
}

func (f *Fake) CreateTag(ctx context.Context, name, message string) error {
	if err := f.enter(ctx, OpCreateTag); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.TagList {
		if t.Name == name {
			return fmt.Errorf("tag %s: %w", name, vcs.ErrRefExists)
		}
	}
	t := vcs.Tag{Name: name, Message: message}
	if len(f.History) > 0 {
		t.Hash = f.History[0].Hash
	}
	f.TagList = append(f.TagList, t)
	return nil
}

func (f *Fake) DeleteTag(ctx context.Context, name string) error {
	if err := f.enter(ctx, OpDeleteTag); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.TagList {
		if t.Name == name {
			f.TagList = append(f.TagList[:i], f.TagList[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("tag %s: %w", name, vcs.ErrRefNotFound)
}

// ===================
// Transport
// ===================

// Transport opens Fakes by path, standing in for vcs.Factory
type Transport struct {
	mu    sync.Mutex
	repos map[string]*Fake

	// Unavailable makes every call fail with vcs.ErrTransportUnavailable
	Unavailable bool

	Cloned []vcs.CloneOptions
}

// NewTransport serves the given repositories by their RootPath
func NewTransport(repos ...*Fake) *Transport {
	t := &Transport{repos: map[string]*Fake{}}
	for _, r := range repos {
		t.repos[r.RootPath] = r
	}
	return t
}

// Add registers another repository
func (t *Transport) Add(f *Fake) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.repos[f.RootPath] = f
}

func (t *Transport) Open(path string) (vcs.Backend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Unavailable {
		return nil, vcs.ErrTransportUnavailable
	}
	f, ok := t.repos[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, vcs.ErrNotInVCS)
	}
	return f, nil
}

func (t *Transport) Clone(ctx context.Context, opts vcs.CloneOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Unavailable {
		return vcs.ErrTransportUnavailable
	}
	t.Cloned = append(t.Cloned, opts)
	t.repos[opts.Path] = New(opts.Path)
	return nil
}

func (t *Transport) Init(ctx context.Context, path string, opts vcs.InitOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Unavailable {
		return vcs.ErrTransportUnavailable
	}
	f := New(path)
	if opts.DefaultBranch != "" {
		f.Current = opts.DefaultBranch
		f.BranchList = []vcs.Branch{{Name: opts.DefaultBranch}}
	}
	t.repos[path] = f
	return nil
}
