package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gitdeck/gitdeck/internal/types"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "nested", "gitdeck.db")
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := openTestDB(t)

	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='kv'`).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("kv table does not exist")
	}

	if err := db.InitSchema(context.Background()); err != nil {
		t.Errorf("InitSchema() should be idempotent: %v", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := db.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}

	if err := db.Put(ctx, "a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put(ctx, "a", "2"); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := db.Get(ctx, "a"); err != nil || !ok || v != "2" {
		t.Errorf("Get(a) = %q, %v, %v; want 2", v, ok, err)
	}

	if err := db.Put(ctx, "b", "x"); err != nil {
		t.Fatal(err)
	}
	keys, err := db.Keys(ctx)
	if err != nil || len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, %v", keys, err)
	}

	if err := db.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete() of missing key should succeed: %v", err)
	}
	if _, ok, _ := db.Get(ctx, "a"); ok {
		t.Error("key a should be gone")
	}
}

func TestRepositoriesRoundTrip(t *testing.T) {
	path := testDBPath(t)
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	repos, err := db.LoadRepositories(ctx)
	if err != nil || len(repos) != 0 {
		t.Fatalf("LoadRepositories() on empty store = %v, %v", repos, err)
	}

	want := []*types.Repository{
		{ID: "1", Name: "r1", Path: "/tmp/r1", Status: types.StatusOnline},
		{ID: "2", Name: "r2", Path: "/tmp/r2", Proxy: &types.ProxySettings{Enabled: true, Host: "p", Port: 8080}},
	}
	if err := db.SaveRepositories(ctx, want); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen to check the data reached the file.
	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	got, err := db.LoadRepositories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Path != "/tmp/r1" || got[1].Proxy == nil || got[1].Proxy.Port != 8080 {
		t.Errorf("LoadRepositories() = %+v", got)
	}
}

func TestGetJSONDecodeError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Put(ctx, KeySettings, "{not json"); err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if _, err := db.GetJSON(ctx, KeySettings, &v); err == nil {
		t.Error("GetJSON() should fail on malformed JSON")
	}
}

func TestCloseTwice(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
