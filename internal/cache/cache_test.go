package cache

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestGetSet(t *testing.T) {
	c := New[string]()

	if _, ok := c.Get("missing"); ok {
		t.Error("Get() on empty cache should miss")
	}

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get() = %q, %v; want v, true", got, ok)
	}

	c.Set("k", "v2")
	if got, _ := c.Get("k"); got != "v2" {
		t.Errorf("Set() should replace, got %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithTTL(60*time.Second), WithClock(clock.Now))

	c.Set("a", 1)
	c.SetWithTTL("b", 2, 10*time.Second)

	clock.Advance(10 * time.Second)
	if !c.Has("b") {
		t.Error("entry should still be live at exactly its TTL")
	}

	clock.Advance(time.Millisecond)
	if c.Has("b") {
		t.Error("entry b should have expired")
	}
	if !c.Has("a") {
		t.Error("entry a should still be live")
	}

	clock.Advance(50 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry a should have expired after default TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entries should be removed on read, Len() = %d", c.Len())
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithTTL(time.Minute), WithClock(clock.Now))

	c.Set("old1", 1)
	c.Set("old2", 2)
	clock.Advance(30 * time.Second)
	c.Set("fresh", 3)
	clock.Advance(31 * time.Second)

	if n := c.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if !c.Has("fresh") {
		t.Error("fresh entry should survive Sweep")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunSweepsExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithTTL(time.Second), WithClock(clock.Now))
	c.Set("old", 1)
	clock.Advance(2 * time.Second)
	c.Set("fresh", 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d, want the expired entry swept", c.Len())
		}
		time.Sleep(time.Millisecond)
	}
	if !c.Has("fresh") {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestMaxEntries(t *testing.T) {
	clock := newFakeClock()
	c := New[int](WithMaxEntries(2), WithClock(clock.Now))

	c.Set("first", 1)
	clock.Advance(time.Second)
	c.Set("second", 2)
	clock.Advance(time.Second)
	c.Set("third", 3)

	if c.Has("first") {
		t.Error("oldest entry should have been evicted")
	}
	if !c.Has("second") || !c.Has("third") {
		t.Error("newer entries should be kept")
	}

	// Overwriting an existing key must not evict.
	c.Set("third", 33)
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestStats(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("b")

	s := c.Stats()
	if s.Entries != 1 || s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		op, path string
		params   []any
		want     string
	}{
		{"status", "/tmp/r", nil, "status:/tmp/r"},
		{"commits", "/tmp/r", []any{50, 0}, "commits:/tmp/r:50:0"},
		{"diff", "/tmp/r", []any{"a.txt", true}, "diff:/tmp/r:a.txt:true"},
		{"status", `C:\r%1`, nil, `status:C%3A\r%251`},
	}

	for _, tt := range tests {
		if got := Key(tt.op, tt.path, tt.params...); got != tt.want {
			t.Errorf("Key(%q, %q, %v) = %q, want %q", tt.op, tt.path, tt.params, got, tt.want)
		}
	}
}

func TestPathPatternEscapesMetacharacters(t *testing.T) {
	path := `C:\repo (2)\a.b`
	re := PathPattern(path)

	matches := []string{
		Key("status", path),
		Key("commits", path, 50, 0),
	}
	for _, k := range matches {
		if !re.MatchString(k) {
			t.Errorf("pattern should match %q", k)
		}
	}

	rejects := []string{
		Key("status", `C:\repo (2)\aXb`),
		Key("status", `C:\repo 2\a.b`),
		Key("status", `C:\repo (2)\a.bc`),
		Key("status", `C:repo (2)a.b`),
	}
	for _, k := range rejects {
		if re.MatchString(k) {
			t.Errorf("pattern should not match %q", k)
		}
	}

	// The bare escaped path matches only itself as well.
	literal := regexp.MustCompile("^" + regexp.QuoteMeta(path) + "$")
	if !literal.MatchString(path) || literal.MatchString(`C:\repo (2)\aXb`) {
		t.Error("escaped path should match only the literal path")
	}
}

func TestInvalidatePatternIsolatesPaths(t *testing.T) {
	c := New[int]()
	for _, p := range []string{"/tmp/r1", "/tmp/r10", "/tmp/r1-backup"} {
		c.Set(Key("status", p), 1)
		c.Set(Key("commits", p, 50, 0), 1)
		c.Set(Key("branches", p), 1)
	}

	if n := c.InvalidatePattern(PathPattern("/tmp/r1")); n != 3 {
		t.Errorf("InvalidatePattern() removed %d, want 3", n)
	}

	for _, p := range []string{"/tmp/r10", "/tmp/r1-backup"} {
		for _, k := range []string{Key("status", p), Key("commits", p, 50, 0), Key("branches", p)} {
			if !c.Has(k) {
				t.Errorf("%q should survive invalidation of /tmp/r1", k)
			}
		}
	}
	if c.Has(Key("status", "/tmp/r1")) {
		t.Error("/tmp/r1 entries should be gone")
	}
}

func TestPathPatternIgnoresPathsWithSeparator(t *testing.T) {
	c := New[int]()
	c.Set(Key("commits", "/tmp/a", 50, 0), 1)
	c.Set(Key("status", "/tmp/a:50"), 1)
	c.Set(Key("status", "/tmp/a%3A50"), 1)

	if n := c.InvalidatePattern(PathPattern("/tmp/a")); n != 1 {
		t.Errorf("InvalidatePattern(/tmp/a) removed %d, want 1", n)
	}
	if !c.Has(Key("status", "/tmp/a:50")) || !c.Has(Key("status", "/tmp/a%3A50")) {
		t.Error("keys of other paths should survive")
	}

	if n := c.InvalidatePattern(PathPattern("/tmp/a:50")); n != 1 {
		t.Errorf("InvalidatePattern(/tmp/a:50) removed %d, want 1", n)
	}
	if !c.Has(Key("status", "/tmp/a%3A50")) {
		t.Error("a path spelling the escape literally is a different path")
	}
}

func TestInvalidateAndClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Set("b", 2)

	c.Invalidate("a")
	c.Invalidate("missing")
	if c.Has("a") || !c.Has("b") {
		t.Error("Invalidate() should remove only the named key")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear() = %d", c.Len())
	}
}

// Benchmark for the hot read path of the commit cache
func BenchmarkGet(b *testing.B) {
	c := New[[]int]()
	key := Key("commits", "/tmp/r1", 50, 0)
	c.Set(key, make([]int, 50))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.Get(key); !ok {
			b.Fatal("miss")
		}
	}
}

// Benchmark for invalidating one repository among 100 cached ones
func BenchmarkInvalidatePattern(b *testing.B) {
	c := New[int]()
	paths := make([]string, 100)
	for i := range paths {
		paths[i] = fmt.Sprintf("/src/repo-%d", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, p := range paths {
			c.Set(Key("status", p), 1)
			c.Set(Key("commits", p, 50, 0), 1)
		}
		b.StartTimer()
		c.InvalidatePattern(PathPattern(paths[i%len(paths)]))
	}
}
