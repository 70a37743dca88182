// Package watcher turns filesystem notifications under a directory tree into
// mutation batches.
//
// fsnotify delivers one event per operation; the watcher groups events that
// arrive within a short window into a single Batch, the way a document
// mutation observer hands its callback every record gathered since the last
// delivery.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"zwsentry/internal/logging"
)

// DefaultWindow is how long the watcher gathers events before delivering a
// batch.
const DefaultWindow = 20 * time.Millisecond

// Batch is one delivery of mutation records.
type Batch struct {
	// Paths are the distinct paths touched, sorted.
	Paths []string
	// Records is the number of raw notifications folded into the batch.
	Records int
}

// Options configures a Watcher.
type Options struct {
	// Recursive watches subdirectories, including ones created later.
	Recursive bool
	// Exclude holds glob patterns matched against base names. Matching
	// files are ignored and matching directories are not descended into.
	Exclude []string
	// Window is the batching window. Zero means DefaultWindow.
	Window time.Duration
	Logger *logging.Logger
}

// Watcher monitors a directory tree.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	opts      Options
	logger    *logging.Logger

	dirsMu sync.RWMutex
	dirs   map[string]bool

	batches chan Batch
	errors  chan error

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		root:      abs,
		opts:      opts,
		logger:    logging.OrDefault(opts.Logger).WithComponent("watcher"),
		dirs:      make(map[string]bool),
		batches:   make(chan Batch, 16),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Batches returns the channel of mutation batches. It is closed by Stop.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Errors returns the channel of watch errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the tree.
func (w *Watcher) Start() error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.eventLoop()
	w.logger.Info("watching", "root", w.root, "dirs", len(w.WatchedDirs()))
	return nil
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		close(w.batches)
		close(w.errors)
		err = w.fsWatcher.Close()
	})
	return err
}

// WatchedDirs returns the directories currently watched, sorted.
func (w *Watcher) WatchedDirs() []string {
	w.dirsMu.RLock()
	defer w.dirsMu.RUnlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) addTree(dir string) error {
	if !w.opts.Recursive {
		return w.addDir(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && Excluded(d.Name(), w.opts.Exclude) {
			return filepath.SkipDir
		}
		return w.addDir(path)
	})
}

func (w *Watcher) addDir(dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.dirsMu.Lock()
	w.dirs[dir] = true
	w.dirsMu.Unlock()
	return nil
}

func (w *Watcher) forgetDir(dir string) {
	w.dirsMu.Lock()
	defer w.dirsMu.Unlock()
	if w.dirs[dir] {
		delete(w.dirs, dir)
		_ = w.fsWatcher.Remove(dir)
	}
}

// eventLoop gathers fsnotify events into batches.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	var (
		pending map[string]bool
		records int
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.accept(event) {
				continue
			}
			if pending == nil {
				pending = make(map[string]bool)
				timer = time.NewTimer(w.opts.Window)
				fire = timer.C
			}
			pending[event.Name] = true
			records++

		case <-fire:
			b := Batch{Records: records}
			for p := range pending {
				b.Paths = append(b.Paths, p)
			}
			sort.Strings(b.Paths)
			pending, records, timer, fire = nil, 0, nil, nil

			select {
			case w.batches <- b:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// accept filters one notification and keeps the watch set in step with
// directories created or removed under the root.
func (w *Watcher) accept(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if Excluded(filepath.Base(event.Name), w.opts.Exclude) {
		return false
	}

	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.forgetDir(event.Name)
	}
	if event.Op.Has(fsnotify.Create) && w.opts.Recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("watch new directory failed", "dir", event.Name, "error", err)
			}
		}
	}
	return true
}

// Excluded reports whether name matches any of the glob patterns.
func Excluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
