// Package watch reports notebook changes under a directory tree.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ankisync/internal/storage"
)

// Change kinds.
const (
	Created = "created"
	Updated = "updated"
	Deleted = "deleted"
)

// Change is one notebook whose content differs from the last scan.
type Change struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// Callback receives the changes found by one debounced scan, sorted by path.
type Callback func(changes []Change)

// Watcher turns bursts of file system events into content changes.
// Editors and the sync itself write notebooks in several steps, so events
// only schedule a scan; the scan compares checksums with the previous one.
type Watcher struct {
	store    storage.Provider
	root     string
	debounce time.Duration
	logger   *slog.Logger
	known    map[string]string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a Watcher over the notebooks directory root served by store.
func New(store storage.Provider, root string, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		store:    store,
		root:     root,
		debounce: 300 * time.Millisecond,
		logger:   logger,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run watches until ctx is cancelled, calling cb after each scan that found
// changes. Directories created at runtime are watched too.
func (w *Watcher) Run(ctx context.Context, cb Callback) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.root); err != nil {
		return err
	}
	if w.known, err = w.snapshot(); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", w.root), slog.Int("notebooks", len(w.known)))

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		} else {
			timer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-timerC:
			timer, timerC = nil, nil
			if changes := w.scan(); len(changes) > 0 && cb != nil {
				cb(changes)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if skipDir(info.Name()) {
						continue
					}
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}
			if relevant(ev) {
				schedule()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// scan diffs the current notebooks against the previous scan.
func (w *Watcher) scan() []Change {
	current, err := w.snapshot()
	if err != nil {
		w.logger.Warn("watcher: scan failed", slog.String("error", err.Error()))
		return nil
	}
	var changes []Change
	for path, sum := range current {
		prev, ok := w.known[path]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Created, Path: path})
		case prev != sum:
			changes = append(changes, Change{Kind: Updated, Path: path})
		}
	}
	for path := range w.known {
		if _, ok := current[path]; !ok {
			changes = append(changes, Change{Kind: Deleted, Path: path})
		}
	}
	w.known = current
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	for _, c := range changes {
		w.logger.Debug("watcher: change", slog.String("kind", c.Kind), slog.String("path", c.Path))
	}
	return changes
}

func (w *Watcher) snapshot() (map[string]string, error) {
	metas, err := w.store.List("")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(metas))
	for _, m := range metas {
		out[m.Path] = m.Checksum
	}
	return out, nil
}

func relevant(ev fsnotify.Event) bool {
	return strings.HasSuffix(ev.Name, storage.NotebookExt) && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func skipDir(name string) bool {
	return name == ".ipynb_checkpoints" || (strings.HasPrefix(name, ".") && name != ".")
}

// addDirsRecursive adds root and its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
