package root

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vigil-watch/vigil/internal/watcher"
)

// WatcherFactory creates the notification backend for a new root.
type WatcherFactory func(path string, log *slog.Logger) (watcher.Watcher, error)

// Registry is the daemon's table of watched roots.
type Registry struct {
	mu         sync.Mutex
	roots      map[string]*Root
	newWatcher WatcherFactory
	opts       Options
}

// NewRegistry creates a registry that builds roots with the given
// watcher factory and default options.
func NewRegistry(factory WatcherFactory, opts Options) *Registry {
	return &Registry{
		roots:      make(map[string]*Root),
		newWatcher: factory,
		opts:       opts,
	}
}

// Watch resolves path to a watched root, creating it on first use.
func (reg *Registry) Watch(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.roots[abs]; ok {
		return r, nil
	}

	log := reg.opts.Log
	if log == nil {
		log = slog.Default()
	}
	w, err := reg.newWatcher(abs, log)
	if err != nil {
		return nil, fmt.Errorf("unable to watch %s: %w", abs, err)
	}
	r, err := New(abs, w, reg.opts)
	if err != nil {
		w.Close()
		return nil, err
	}
	reg.roots[abs] = r
	return r, nil
}

// Get returns the root for path, or an error if it is not watched.
func (reg *Registry) Get(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.roots[abs]
	if !ok {
		return nil, fmt.Errorf("directory %s is not watched", abs)
	}
	return r, nil
}

// Remove stops and forgets the root for path.
func (reg *Registry) Remove(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	reg.mu.Lock()
	r, ok := reg.roots[abs]
	if ok {
		delete(reg.roots, abs)
	}
	reg.mu.Unlock()

	if ok {
		r.Stop()
	}
	return ok
}

// Paths returns the sorted list of watched root paths.
func (reg *Registry) Paths() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	paths := make([]string, 0, len(reg.roots))
	for p := range reg.roots {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// StopAll stops every root, for daemon shutdown.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	roots := make([]*Root, 0, len(reg.roots))
	for _, r := range reg.roots {
		roots = append(roots, r)
	}
	reg.roots = make(map[string]*Root)
	reg.mu.Unlock()

	for _, r := range roots {
		r.Stop()
	}
}
