// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs work when files under a directory change.
//
// Filesystem events are filtered by doublestar glob patterns and coalesced:
// the callback fires once per quiet period with every path that changed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrInvalidPattern is returned by New for malformed globs.
	ErrInvalidPattern = errors.New("invalid watch pattern")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("watcher already running")
)

// alwaysIgnored are editor and VCS paths that never trigger a run.
var alwaysIgnored = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*~",
	"**/.#*",
}

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Dir is the watched root. Empty means the working directory.
		Dir string
		// Patterns select the paths, relative to Dir, that trigger a run.
		// No patterns means every path.
		Patterns []string
		// Ignore is merged with the built-in ignores.
		Ignore []string
		// Debounce is the quiet period before OnChange fires.
		Debounce time.Duration
		// OnChange receives the changed paths, relative to Dir and sorted.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *log.Logger
	}

	// Watcher fires Config.OnChange after matching files change.
	Watcher struct {
		cfg      Config
		root     string
		ignore   []string
		debounce time.Duration
		logger   *log.Logger
		fsw      *fsnotify.Watcher
		running  atomic.Bool
	}
)

// New validates cfg and registers every non-ignored directory under the
// root. The watcher is idle until Run.
func New(cfg Config) (*Watcher, error) {
	for _, p := range slices.Concat(cfg.Patterns, cfg.Ignore) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", dir, err)
	}

	w := &Watcher{
		cfg:      cfg,
		root:     root,
		ignore:   slices.Concat(alwaysIgnored, cfg.Ignore),
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.New(io.Discard)
	}

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := w.addTree(root); err != nil {
		_ = w.fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string { return w.root }

// Matches reports whether a path relative to the root triggers a run.
func (w *Watcher) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	if matchAny(w.ignore, rel) {
		return false
	}
	return len(w.cfg.Patterns) == 0 || matchAny(w.cfg.Patterns, rel)
}

// Run processes events until ctx is done. Callbacks never overlap: events
// arriving while one runs are kept for the next. A callback error is logged
// and does not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close watcher", "error", err)
		}
	}()

	var (
		mu       sync.Mutex
		pending  = make(map[string]struct{})
		busy     sync.Mutex
		inflight sync.WaitGroup
	)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	fire := func() {
		busy.Lock()
		defer busy.Unlock()
		mu.Lock()
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()
		if len(changed) == 0 || w.cfg.OnChange == nil || ctx.Err() != nil {
			return
		}
		if err := w.cfg.OnChange(ctx, changed); err != nil {
			w.logger.Error("change handler failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			inflight.Wait()
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			rel, err := filepath.Rel(w.root, evt.Name)
			if err != nil {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.addIfDir(evt.Name)
			}
			if !w.Matches(rel) {
				continue
			}
			mu.Lock()
			pending[filepath.ToSlash(rel)] = struct{}{}
			mu.Unlock()
			timer.Reset(w.debounce)

		case <-timer.C:
			inflight.Go(fire)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, _ := filepath.Rel(root, path); rel != "." && matchAny(w.ignore, filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) addIfDir(path string) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		if err := w.addTree(path); err != nil {
			w.logger.Warn("watch new directory", "path", path, "error", err)
		}
	}
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
