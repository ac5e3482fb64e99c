// Package filewatch pushes a fresh file list to every control session when
// files are created, removed or renamed in the workspace.
package filewatch

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/standardbeagle/flycli/internal/protocol"
	"github.com/standardbeagle/flycli/internal/sandbox"
)

// DefaultDebounce coalesces bursts such as a package install.
const DefaultDebounce = 250 * time.Millisecond

// Lister produces the workspace file list.
type Lister interface {
	Root() string
	ProjectFiles(ctx context.Context) ([]string, error)
}

// Broadcaster delivers a frame to every live session.
type Broadcaster interface {
	Broadcast(f protocol.Frame) int
}

// Watcher watches the workspace tree, skipping ignored directories.
type Watcher struct {
	lister   Lister
	sink     Broadcaster
	debounce time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// New creates a watcher. A non-positive debounce uses DefaultDebounce.
func New(lister Lister, sink Broadcaster, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{lister: lister, sink: sink, debounce: debounce}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	logger := pslog.Ctx(ctx).With("component", "filewatch")
	if err := w.addTree(fw, w.lister.Root()); err != nil {
		return err
	}
	logger.Debug("watching workspace", "root", w.lister.Root())

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if sandbox.IsIgnoredName(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories need their own watch.
				if err := w.addTree(fw, ev.Name); err != nil {
					logger.Debug("watch add failed", "path", ev.Name, "error", err)
				}
			}
			w.schedule(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		}
	}
}

// addTree watches root and every non-ignored directory beneath it. Files
// are skipped.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && sandbox.IsIgnoredName(d.Name()) {
			return fs.SkipDir
		}
		return fw.Add(p)
	})
}

// schedule (re)arms the debounce timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.push(ctx) })
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) push(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	files, err := w.lister.ProjectFiles(ctx)
	if err != nil {
		pslog.Ctx(ctx).Warn("file list failed", "error", err)
		return
	}
	n := w.sink.Broadcast(protocol.FileList{Files: files})
	pslog.Ctx(ctx).Debug("file list pushed", "files", len(files), "sessions", n)
}
