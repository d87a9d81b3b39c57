package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher is the concrete notification backend, built on
// fsnotify. fsnotify watches are not recursive, so the watcher registers
// every directory under the root and adds new directories as they are
// created.
type FSNotifyWatcher struct {
	root string
	fsw  *fsnotify.Watcher
	log  *slog.Logger

	events chan Event
	errs   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// NewFSNotify starts watching root recursively.
func NewFSNotify(root string, log *slog.Logger) (*FSNotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &FSNotifyWatcher{
		root:   root,
		fsw:    fsw,
		log:    log,
		events: make(chan Event, 256),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *FSNotifyWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // racing deletes are fine
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Warn("failed to watch directory", "dir", path, "error", addErr)
			}
		}
		return nil
	})
}

func (w *FSNotifyWatcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *FSNotifyWatcher) handle(ev fsnotify.Event) {
	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
		// New directories need their own watch to keep recursion alive.
		if st, err := os.Lstat(ev.Name); err == nil && st.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Warn("failed to extend watch", "dir", ev.Name, "error", err)
			}
			return
		}
	case ev.Has(fsnotify.Write):
		op = OpWrite
	case ev.Has(fsnotify.Remove):
		op = OpRemove
	case ev.Has(fsnotify.Rename):
		op = OpRename
	case ev.Has(fsnotify.Chmod):
		op = OpChmod
	default:
		return
	}

	select {
	case w.events <- Event{Path: ev.Name, Op: op}:
	case <-w.done:
	}
}

func (w *FSNotifyWatcher) Events() <-chan Event { return w.events }

func (w *FSNotifyWatcher) Errors() <-chan error { return w.errs }

func (w *FSNotifyWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
