package secrets

import (
	"context"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/gitdeck/gitdeck/internal/types"
)

type memStore struct {
	repos []*types.Repository
}

func (m *memStore) LoadRepositories(ctx context.Context) ([]*types.Repository, error) {
	out := make([]*types.Repository, len(m.repos))
	for i, r := range m.repos {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *memStore) SaveRepositories(ctx context.Context, repos []*types.Repository) error {
	m.repos = repos
	return nil
}

func TestKeychain(t *testing.T) {
	keyring.MockInit()
	k := New("")

	if _, ok, err := k.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := k.Set(PlatformAccount("github"), "tok"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := k.Get(PlatformAccount("github"))
	if err != nil || !ok || v != "tok" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}

	// An empty secret clears the entry
	if err := k.Set(PlatformAccount("github"), ""); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := k.Get(PlatformAccount("github")); ok {
		t.Error("entry should be deleted")
	}
	if err := k.Delete("never-set"); err != nil {
		t.Errorf("Delete of a missing entry failed: %v", err)
	}
}

func TestStoreKeepsSecretsOutOfTheList(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	mem := &memStore{}
	s := NewStore(mem, New("gitdeck-test"))

	r := types.NewRepository("/tmp/r1", "")
	r.AuthType = types.AuthToken
	r.Username = "me"
	r.Token = "secret-token"

	if err := s.SaveRepositories(ctx, []*types.Repository{r}); err != nil {
		t.Fatalf("SaveRepositories failed: %v", err)
	}
	if mem.repos[0].Token != "" || mem.repos[0].Password != "" {
		t.Errorf("persisted repository carries secrets: %+v", mem.repos[0])
	}
	if r.Token != "secret-token" {
		t.Error("SaveRepositories modified the caller's repository")
	}

	loaded, err := NewStore(mem, New("gitdeck-test")).LoadRepositories(ctx)
	if err != nil {
		t.Fatalf("LoadRepositories failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Token != "secret-token" || loaded[0].Username != "me" {
		t.Errorf("loaded = %+v", loaded[0])
	}
}

func TestStoreDeletesSecretsOfRemovedRepositories(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	k := New("gitdeck-test")
	s := NewStore(&memStore{}, k)

	r := types.NewRepository("/tmp/r1", "")
	r.Password = "pw"
	if err := s.SaveRepositories(ctx, []*types.Repository{r}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := k.Get(passwordAccount(r.ID)); !ok {
		t.Fatal("password not stored")
	}

	if err := s.SaveRepositories(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := k.Get(passwordAccount(r.ID)); ok {
		t.Error("password of a removed repository should be deleted")
	}
}

func TestStoreLoadsInlineSecrets(t *testing.T) {
	keyring.MockInit()
	r := types.NewRepository("/tmp/legacy", "")
	r.Token = "inline"
	mem := &memStore{repos: []*types.Repository{r}}

	loaded, err := NewStore(mem, New("gitdeck-test")).LoadRepositories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded[0].Token != "inline" {
		t.Errorf("Token = %q, want inline value kept", loaded[0].Token)
	}
}
