package autosync

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a repository file change by what it invalidates.
type Kind int

const (
	// KindWorktree is a change to a tracked or untracked file.
	KindWorktree Kind = iota
	// KindIndex is a change to the staging area or merge state.
	KindIndex
	// KindHead is a change of the checked out branch.
	KindHead
	// KindRefs is a change to local or remote branch heads.
	KindRefs
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindWorktree:
		return "worktree"
	case KindIndex:
		return "index"
	case KindHead:
		return "head"
	case KindRefs:
		return "refs"
	default:
		return "unknown"
	}
}

// Event is a file system change inside the watched repository.
type Event struct {
	// Path is the absolute path of the file that changed.
	Path string
	// Kind tells which part of the mirrored state is stale.
	Kind Kind
}

// gitDirs are the directories below .git watched for ref updates
var gitDirs = []string{"", "refs/heads", "refs/remotes"}

// Watcher watches one repository's working tree root and its .git
// metadata. fsnotify is not recursive: only top-level working tree files
// and the directories in gitDirs are observed.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	root    string
	gitDir  string
	watched []string
	closed  bool
}

// NewWatcher creates a Watcher that is not yet watching anything.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher: fw,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Watch switches the watcher to the repository at root. An empty root
// stops watching without closing the watcher. Directories that do not
// exist (a fresh repository has no refs/remotes) are skipped.
func (w *Watcher) Watch(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher closed")
	}

	for _, p := range w.watched {
		_ = w.watcher.Remove(p)
	}
	w.watched = nil
	w.root, w.gitDir = "", ""

	if root == "" {
		return nil
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if err := w.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch %s: %w", abs, err)
	}
	w.watched = append(w.watched, abs)

	gitDir := filepath.Join(abs, ".git")
	for _, sub := range gitDirs {
		dir := filepath.Join(gitDir, filepath.FromSlash(sub))
		if err := w.watcher.Add(dir); err != nil {
			if sub == "" {
				w.removeLocked()
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			continue
		}
		w.watched = append(w.watched, dir)
	}

	w.root, w.gitDir = abs, gitDir
	return nil
}

func (w *Watcher) removeLocked() {
	for _, p := range w.watched {
		_ = w.watcher.Remove(p)
	}
	w.watched = nil
}

// Root returns the repository currently watched, or "".
func (w *Watcher) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Close stops watching and closes the Events and Errors channels.
// It blocks until the event goroutine has exited.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Events returns the channel of classified changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := w.convertEvent(event); ok {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent classifies an fsnotify event. Chmod events and lock files
// are dropped.
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return Event{}, false
	}
	if strings.HasSuffix(event.Name, ".lock") {
		return Event{}, false
	}

	w.mu.Lock()
	root, gitDir := w.root, w.gitDir
	w.mu.Unlock()

	kind, ok := classify(root, gitDir, event.Name)
	if !ok {
		return Event{}, false
	}
	return Event{Path: event.Name, Kind: kind}, true
}

// classify maps a changed path to the state it invalidates
func classify(root, gitDir, path string) (Kind, bool) {
	if root == "" {
		return 0, false
	}

	if rel, err := filepath.Rel(gitDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		rel = filepath.ToSlash(rel)
		switch {
		case rel == "HEAD":
			return KindHead, true
		case rel == "index", rel == "MERGE_HEAD", rel == "CHERRY_PICK_HEAD":
			return KindIndex, true
		case rel == "FETCH_HEAD", rel == "packed-refs", strings.HasPrefix(rel, "refs/"):
			return KindRefs, true
		}
		return 0, false
	}

	if filepath.Dir(path) == root {
		return KindWorktree, true
	}
	return 0, false
}
