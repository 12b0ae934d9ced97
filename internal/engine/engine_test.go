package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gitdeck/gitdeck/internal/cache"
	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/gateway"
	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/vcs"
	"github.com/gitdeck/gitdeck/internal/vcs/vcstest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore keeps the repository list in memory
type memStore struct {
	mu    sync.Mutex
	repos []*types.Repository
	saves int
	err   error
	delay time.Duration
}

func (s *memStore) LoadRepositories(ctx context.Context) ([]*types.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Repository(nil), s.repos...), nil
}

func (s *memStore) SaveRepositories(ctx context.Context, repos []*types.Repository) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saves++
	s.repos = append([]*types.Repository(nil), repos...)
	return nil
}

var quiet = log.New(io.Discard, "", 0)

type harness struct {
	engine    *Engine
	transport *vcstest.Transport
	cache     *cache.Cache[[]vcs.Commit]
	clock     *fakeClock
	store     *memStore
}

func newHarness(t *testing.T, repos ...*vcstest.Fake) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := vcstest.NewTransport(repos...)
	gw := gateway.New(tr, gateway.WithLogger(quiet))
	c := cache.New[[]vcs.Commit](cache.WithClock(clock.Now))
	st := &memStore{}

	settings := config.DefaultSettings()
	settings.Performance.CommitCacheTTL = 60

	return &harness{
		engine:    New(gw, c, st, WithLogger(quiet), WithSettings(settings)),
		transport: tr,
		cache:     c,
		clock:     clock,
		store:     st,
	}
}

func newRepo(path string, commits int) *vcstest.Fake {
	f := vcstest.New(path)
	f.AddCommits(commits)
	return f
}

func (h *harness) load(t *testing.T, path string) {
	t.Helper()
	if err := h.engine.LoadRepository(context.Background(), types.NewRepository(path, "")); err != nil {
		t.Fatalf("LoadRepository(%s) error = %v", path, err)
	}
}

func TestLoadRepository(t *testing.T) {
	repo := newRepo("/tmp/r", 3)
	repo.Changes = []vcs.FileChange{{Path: "a.txt", Kind: vcs.ChangeModified}}
	repo.BranchList = append(repo.BranchList, vcs.Branch{Name: "dev"})
	h := newHarness(t, repo)

	h.load(t, "/tmp/r")

	s := h.engine.Snapshot()
	if s.Phase != PhaseReady || s.Loading || s.Error != "" {
		t.Errorf("state = phase %s loading %v error %q", s.Phase, s.Loading, s.Error)
	}
	if s.CurrentBranch != "main" {
		t.Errorf("CurrentBranch = %q, want main", s.CurrentBranch)
	}
	if len(s.Commits) != 3 || len(s.Branches) != 2 || len(s.FileChanges) != 1 {
		t.Errorf("commits %d branches %d changes %d", len(s.Commits), len(s.Branches), len(s.FileChanges))
	}
	if s.Session != 1 {
		t.Errorf("Session = %d, want 1", s.Session)
	}
}

func TestLoadEmptyRepository(t *testing.T) {
	tests := []struct {
		name    string
		current string
	}{
		{"branch reported", "main"},
		{"unborn head", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := vcstest.New("/tmp/empty")
			repo.Current = tt.current
			h := newHarness(t, repo)

			h.load(t, "/tmp/empty")

			s := h.engine.Snapshot()
			if s.Commits == nil || len(s.Commits) != 0 {
				t.Errorf("Commits = %#v, want empty non-nil", s.Commits)
			}
			if s.CurrentBranch != "main" {
				t.Errorf("CurrentBranch = %q, want main", s.CurrentBranch)
			}
			if s.Phase != PhaseReady || s.Error != "" {
				t.Errorf("phase %s error %q", s.Phase, s.Error)
			}
		})
	}
}

func TestLoadEmptyRepositoryUsesDefaultBranchSetting(t *testing.T) {
	repo := vcstest.New("/tmp/empty")
	repo.Current = ""
	h := newHarness(t, repo)
	s := h.engine.Settings()
	s.GitBehavior.DefaultBranchName = "trunk"
	h.engine.SetSettings(s)

	h.load(t, "/tmp/empty")

	if got := h.engine.Snapshot().CurrentBranch; got != "trunk" {
		t.Errorf("CurrentBranch = %q, want trunk", got)
	}
}

func TestLoadOutageRaises(t *testing.T) {
	t.Run("backend failure", func(t *testing.T) {
		repo := newRepo("/tmp/r", 1)
		repo.FailOn(vcstest.OpStatus, errors.New("fatal: unable to read index"))
		h := newHarness(t, repo)

		err := h.engine.LoadRepository(context.Background(), types.NewRepository("/tmp/r", ""))
		if err == nil {
			t.Fatal("LoadRepository() should fail")
		}
		if IsEmptyRepository(err) {
			t.Errorf("outage classified as empty repository: %v", err)
		}
		s := h.engine.Snapshot()
		if s.Phase != PhaseError || s.Loading || !strings.Contains(s.Error, "unable to read index") {
			t.Errorf("state = phase %s loading %v error %q", s.Phase, s.Loading, s.Error)
		}
		if repo.Calls(vcstest.OpLog) != 0 {
			t.Error("commits should not load after status failed")
		}
	})

	t.Run("transport unavailable", func(t *testing.T) {
		h := newHarness(t, newRepo("/tmp/r", 1))
		h.transport.Unavailable = true

		err := h.engine.LoadRepository(context.Background(), types.NewRepository("/tmp/r", ""))
		if !errors.Is(err, vcs.ErrTransportUnavailable) {
			t.Fatalf("LoadRepository() error = %v, want ErrTransportUnavailable", err)
		}
		if Classify(err) != CodeTransport {
			t.Errorf("Classify() = %s", Classify(err))
		}
	})

	t.Run("history failure other than empty", func(t *testing.T) {
		repo := newRepo("/tmp/r", 1)
		repo.FailOn(vcstest.OpLog, errors.New("fatal: bad object HEAD"))
		h := newHarness(t, repo)

		if err := h.engine.LoadRepository(context.Background(), types.NewRepository("/tmp/r", "")); err == nil {
			t.Fatal("LoadRepository() should fail")
		}
	})
}

func TestRefreshCommitsUsesCache(t *testing.T) {
	repo := newRepo("/tmp/r", 5)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	ctx := context.Background()

	base := repo.Calls(vcstest.OpLog)
	for i := 0; i < 2; i++ {
		if err := h.engine.RefreshCommits(ctx, 50, 0); err != nil {
			t.Fatalf("RefreshCommits() error = %v", err)
		}
	}
	if got := repo.Calls(vcstest.OpLog) - base; got != 0 {
		t.Errorf("backend log calls within TTL = %d, want 0 (page cached by load)", got)
	}

	h.clock.Advance(61 * time.Second)
	if err := h.engine.RefreshCommits(ctx, 50, 0); err != nil {
		t.Fatalf("RefreshCommits() error = %v", err)
	}
	if got := repo.Calls(vcstest.OpLog) - base; got != 1 {
		t.Errorf("backend log calls after TTL = %d, want 1", got)
	}
}

func TestRefreshCommitsTwiceOneBackendCall(t *testing.T) {
	repo := newRepo("/tmp/r", 5)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	h.engine.ClearCache()
	ctx := context.Background()

	base := repo.Calls(vcstest.OpLog)
	_ = h.engine.RefreshCommits(ctx, 50, 0)
	_ = h.engine.RefreshCommits(ctx, 50, 0)
	if got := repo.Calls(vcstest.OpLog) - base; got != 1 {
		t.Errorf("log calls = %d, want 1", got)
	}

	h.clock.Advance(61 * time.Second)
	_ = h.engine.RefreshCommits(ctx, 50, 0)
	if got := repo.Calls(vcstest.OpLog) - base; got != 2 {
		t.Errorf("log calls after expiry = %d, want 2", got)
	}
}

func TestRefreshCommitsPaging(t *testing.T) {
	repo := newRepo("/tmp/r", 5)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	ctx := context.Background()

	if err := h.engine.RefreshCommits(ctx, 2, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.RefreshCommits(ctx, 2, 2); err != nil {
		t.Fatal(err)
	}
	s := h.engine.Snapshot()
	if len(s.Commits) != 4 {
		t.Fatalf("len(Commits) = %d, want 4", len(s.Commits))
	}
	if s.Commits[2].Message != "commit 3" {
		t.Errorf("third commit = %q, want commit 3", s.Commits[2].Message)
	}

	if err := h.engine.RefreshCommits(ctx, 2, 0); err != nil {
		t.Fatal(err)
	}
	if got := len(h.engine.Snapshot().Commits); got != 2 {
		t.Errorf("offset 0 should replace the list, len = %d", got)
	}
}

func TestCheckoutPartialFailure(t *testing.T) {
	repo := newRepo("/tmp/r", 2)
	repo.BranchList = append(repo.BranchList, vcs.Branch{Name: "dev"})
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	repo.Lock()
	repo.Changes = []vcs.FileChange{{Path: "new.txt", Kind: vcs.ChangeUntracked}}
	repo.Unlock()
	repo.AddCommits(1)
	repo.FailOn(vcstest.OpBranches, errors.New("fatal: cannot list refs"))

	err := h.engine.CheckoutBranch(context.Background(), "dev")
	if err == nil || !strings.Contains(err.Error(), "cannot list refs") {
		t.Fatalf("CheckoutBranch() error = %v, want branches failure", err)
	}

	s := h.engine.Snapshot()
	if len(s.FileChanges) != 1 || s.FileChanges[0].Path != "new.txt" {
		t.Errorf("FileChanges not refreshed: %+v", s.FileChanges)
	}
	if len(s.Commits) != 3 {
		t.Errorf("Commits not refreshed past the cache: len = %d", len(s.Commits))
	}
	if s.CurrentBranch != "dev" {
		t.Errorf("CurrentBranch = %q, want dev", s.CurrentBranch)
	}
	if s.Loading || s.Phase != PhaseError {
		t.Errorf("loading %v phase %s", s.Loading, s.Phase)
	}
}

func TestCheckoutFailureSkipsRefresh(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	base := repo.Calls(vcstest.OpStatus)

	if err := h.engine.CheckoutBranch(context.Background(), "missing"); err == nil {
		t.Fatal("checkout of an unknown branch should fail")
	}
	if repo.Calls(vcstest.OpStatus) != base {
		t.Error("status refreshed after failed checkout")
	}
}

func TestStaleResultsDiscarded(t *testing.T) {
	slow := newRepo("/tmp/slow", 2)
	fast := newRepo("/tmp/fast", 4)
	h := newHarness(t, slow, fast)
	ctx := context.Background()

	var once sync.Once
	slow.OnCall(vcstest.OpLog, func(context.Context) {
		once.Do(func() {
			_ = h.engine.LoadRepository(ctx, types.NewRepository("/tmp/fast", ""))
		})
	})

	if err := h.engine.LoadRepository(ctx, types.NewRepository("/tmp/slow", "")); err != nil {
		t.Fatalf("LoadRepository(slow) error = %v", err)
	}

	s := h.engine.Snapshot()
	if s.Active == nil || s.Active.Path != "/tmp/fast" {
		t.Fatalf("Active = %+v, want /tmp/fast", s.Active)
	}
	if len(s.Commits) != 4 {
		t.Errorf("len(Commits) = %d, want fast repository's 4", len(s.Commits))
	}
	if s.Phase != PhaseReady {
		t.Errorf("Phase = %s, want ready", s.Phase)
	}
}

func TestCommitInvalidatesHistory(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	repo.Changes = []vcs.FileChange{{Path: "a.txt", Kind: vcs.ChangeModified, Staged: true}}
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	hash, err := h.engine.Commit(context.Background(), "add a")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	s := h.engine.Snapshot()
	if len(s.Commits) != 2 || s.Commits[0].Hash != hash {
		t.Errorf("history not refreshed after commit: %+v", s.Commits)
	}
	if len(s.FileChanges) != 0 {
		t.Errorf("FileChanges = %+v, want none", s.FileChanges)
	}
}

func TestCommitNothingStaged(t *testing.T) {
	h := newHarness(t, newRepo("/tmp/r", 1))
	h.load(t, "/tmp/r")

	_, err := h.engine.Commit(context.Background(), "empty")
	var be *BackendError
	if !errors.As(err, &be) || be.Op != "commit" {
		t.Fatalf("Commit() error = %v, want commit BackendError", err)
	}
	if h.engine.Snapshot().Phase != PhaseError {
		t.Error("failure should be recorded in state")
	}
}

func TestConflictCheckFailureIsSwallowed(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	repo.ConflictList = []vcs.Conflict{{Path: "x.go"}}
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	if !h.engine.Snapshot().HasConflicts {
		t.Fatal("HasConflicts should be set after load")
	}

	repo.FailOn(vcstest.OpConflicts, errors.New("boom"))
	if err := h.engine.RefreshStatus(context.Background()); err != nil {
		t.Fatalf("RefreshStatus() error = %v", err)
	}
	s := h.engine.Snapshot()
	if s.HasConflicts || len(s.Conflicts) != 0 {
		t.Errorf("failed check should read as no conflicts: %+v", s.Conflicts)
	}
}

func TestRefreshCurrentBranchKeepsValueOnFailure(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	repo.FailOn(vcstest.OpCurrentBranch, errors.New("fatal: HEAD"))
	h.engine.RefreshCurrentBranch(context.Background())
	if got := h.engine.Snapshot().CurrentBranch; got != "main" {
		t.Errorf("CurrentBranch = %q, want main", got)
	}
}

func TestSuccessfulRefreshClearsError(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	ctx := context.Background()

	repo.FailOn(vcstest.OpStatus, errors.New("fatal: unable to read index"))
	if err := h.engine.RefreshStatus(ctx); err == nil {
		t.Fatal("RefreshStatus() should fail")
	}
	if s := h.engine.Snapshot(); s.Phase != PhaseError || s.Error == "" {
		t.Fatalf("after failure: phase=%s error=%q", s.Phase, s.Error)
	}

	repo.FailOn(vcstest.OpStatus, nil)
	if err := h.engine.RefreshStatus(ctx); err != nil {
		t.Fatal(err)
	}
	if s := h.engine.Snapshot(); s.Phase != PhaseReady || s.Error != "" {
		t.Errorf("after recovery: phase=%s error=%q", s.Phase, s.Error)
	}
}

func TestOperationsNeedActiveRepository(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"status":   func() error { return h.engine.RefreshStatus(ctx) },
		"commits":  func() error { return h.engine.RefreshCommits(ctx, 50, 0) },
		"checkout": func() error { return h.engine.CheckoutBranch(ctx, "main") },
		"fetch":    func() error { return h.engine.Fetch(ctx, "") },
		"stage":    func() error { return h.engine.StageFile(ctx, "a") },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNoActiveRepository) {
			t.Errorf("%s error = %v, want ErrNoActiveRepository", name, err)
		}
	}
}

func TestStageAndUnstage(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	repo.Changes = []vcs.FileChange{{Path: "a.txt", Kind: vcs.ChangeModified}}
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	ctx := context.Background()

	if err := h.engine.StageFile(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if !h.engine.Snapshot().FileChanges[0].Staged {
		t.Error("a.txt should be staged")
	}
	if err := h.engine.UnstageFile(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if h.engine.Snapshot().FileChanges[0].Staged {
		t.Error("a.txt should be unstaged")
	}
	if err := h.engine.DiscardFile(ctx, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if n := len(h.engine.Snapshot().FileChanges); n != 0 {
		t.Errorf("changes after discard = %d", n)
	}
}

func TestBranchLifecycle(t *testing.T) {
	h := newHarness(t, newRepo("/tmp/r", 1))
	h.load(t, "/tmp/r")
	ctx := context.Background()

	if err := h.engine.CreateBranch(ctx, "feature", ""); err != nil {
		t.Fatal(err)
	}
	if n := len(h.engine.Snapshot().Branches); n != 2 {
		t.Errorf("branches after create = %d", n)
	}
	if err := h.engine.CreateBranch(ctx, "feature", ""); err == nil {
		t.Error("duplicate branch should fail")
	}
	if err := h.engine.DeleteBranch(ctx, "feature", false); err != nil {
		t.Fatal(err)
	}
	if n := len(h.engine.Snapshot().Branches); n != 1 {
		t.Errorf("branches after delete = %d", n)
	}
}

func TestPushSetsUpstreamAndPassesAuth(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	r := types.NewRepository("/tmp/r", "")
	r.AuthType = types.AuthToken
	r.Username = "octo"
	r.Token = "secret"
	if err := h.engine.LoadRepository(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	if err := h.engine.Push(context.Background(), "origin", false); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	repo.Lock()
	auth := repo.LastAuth
	repo.Unlock()
	if auth == nil || auth.Token != "secret" || auth.Username != "octo" {
		t.Errorf("LastAuth = %+v", auth)
	}
	if repo.Calls(vcstest.OpBranches) != 2 {
		t.Errorf("branches should refresh after push")
	}
}

func TestPullFailureChecksConflicts(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	repo.Lock()
	repo.ConflictList = []vcs.Conflict{{Path: "x.go"}}
	repo.Unlock()
	repo.FailOn(vcstest.OpPull, errors.New("CONFLICT (content): Merge conflict in x.go"))

	err := h.engine.Pull(context.Background(), "")
	if Classify(err) != CodeConflictDetected {
		t.Errorf("Classify(%v) = %s", err, Classify(err))
	}
	s := h.engine.Snapshot()
	if !s.HasConflicts || s.Loading {
		t.Errorf("hasConflicts %v loading %v", s.HasConflicts, s.Loading)
	}
}

func TestPullResyncs(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	repo.AddCommits(2)

	if err := h.engine.Pull(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	s := h.engine.Snapshot()
	if len(s.Commits) != 3 || s.Phase != PhaseReady {
		t.Errorf("commits %d phase %s", len(s.Commits), s.Phase)
	}
}

func TestMergeConflictRefreshesStatus(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	repo.Lock()
	repo.ConflictList = []vcs.Conflict{{Path: "x.go"}}
	repo.Unlock()

	if _, err := h.engine.Merge(context.Background(), "dev"); err == nil {
		t.Fatal("Merge() should fail with conflicts")
	}
	if !h.engine.Snapshot().HasConflicts {
		t.Error("conflicts should be mirrored after a failed merge")
	}

	if err := h.engine.AbortMerge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.engine.Snapshot().HasConflicts {
		t.Error("conflicts should clear after abort")
	}
}

func TestCherryPickStopsAtFailure(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")

	calls := 0
	repo.OnCall(vcstest.OpCherryPick, func(context.Context) {
		calls++
		if calls == 1 {
			repo.FailOn(vcstest.OpCherryPick, errors.New("could not apply"))
		}
	})

	applied, err := h.engine.CherryPick(context.Background(), "aaa", "bbb", "ccc")
	if err == nil {
		t.Fatal("CherryPick() should fail")
	}
	if len(applied) != 1 || applied[0] != "aaa" {
		t.Errorf("applied = %v, want [aaa]", applied)
	}
	if n := len(h.engine.Snapshot().Commits); n != 2 {
		t.Errorf("history should include the applied pick, len = %d", n)
	}
}

func TestStash(t *testing.T) {
	repo := newRepo("/tmp/r", 1)
	repo.Changes = []vcs.FileChange{{Path: "a.txt", Kind: vcs.ChangeModified}}
	h := newHarness(t, repo)
	h.load(t, "/tmp/r")
	ctx := context.Background()

	if err := h.engine.StashSave(ctx, "wip"); err != nil {
		t.Fatal(err)
	}
	if n := len(h.engine.Snapshot().FileChanges); n != 0 {
		t.Errorf("changes after stash = %d", n)
	}
	if err := h.engine.StashPop(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.StashPop(ctx, 0); err == nil {
		t.Error("popping an empty stash should fail")
	}
}

func TestOnChange(t *testing.T) {
	h := newHarness(t, newRepo("/tmp/r", 1))
	var mu sync.Mutex
	var phases []Phase
	h.engine.OnChange(func(s State) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})

	h.load(t, "/tmp/r")

	mu.Lock()
	defer mu.Unlock()
	if len(phases) == 0 || phases[len(phases)-1] != PhaseReady {
		t.Errorf("phases = %v, want last ready", phases)
	}
}
