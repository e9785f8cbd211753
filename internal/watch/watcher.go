// Package watch reports files that change on disk so they can be ingested
// again.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Change is a file that was written or removed.
type Change struct {
	Path    string
	Removed bool
}

// Handler receives the changes collected during one quiet period, sorted by
// path. A path appears at most once.
type Handler func(ctx context.Context, changes []Change)

// Watcher watches directory trees for file changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
}

// New creates a Watcher over roots. Directories are watched recursively;
// hidden files and directories are ignored.
func New(roots []string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{fsw: fsw, debounce: debounce}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches root and every non-hidden directory below it. A file root
// is watched through its parent directory.
func (w *Watcher) addTree(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return w.fsw.Add(filepath.Dir(root))
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run delivers changes to handle until ctx is cancelled, then closes the
// watcher. Events are coalesced until no new event arrives for the debounce
// period.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	defer w.fsw.Close()

	pending := make(map[string]Change)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isHidden(ev.Name) {
					if err := w.addTree(ev.Name); err != nil {
						log.Printf("watch: %v", err)
					}
					continue
				}
			}
			change, ok := handleEvent(ev)
			if !ok {
				continue
			}
			pending[change.Path] = change
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("watch: %v", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			handle(ctx, drain(pending))
		}
	}
}

func drain(pending map[string]Change) []Change {
	out := make([]Change, 0, len(pending))
	for k, c := range pending {
		out = append(out, c)
		delete(pending, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// handleEvent maps an fsnotify event to a Change. Chmod, directory and
// hidden-file events are dropped.
func handleEvent(ev fsnotify.Event) (Change, bool) {
	if isHidden(ev.Name) {
		return Change{}, false
	}

	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Change{Path: ev.Name, Removed: true}, true
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return Change{Path: ev.Name, Removed: true}, true
		}
		if info.IsDir() {
			return Change{}, false
		}
		return Change{Path: ev.Name}, true
	}
	return Change{}, false
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
