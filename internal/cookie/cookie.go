// Package cookie implements the write-then-observe barrier that proves
// the watcher has caught up with the present.
//
// A sync drops a uniquely named sentinel file inside the watched tree and
// completes once the notification pipeline reports that file's creation
// back to us. Anything observed before the cookie is therefore ordered
// before anything queried after the sync.
package cookie

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prefix is the leading portion of every cookie file name.
const Prefix = ".vigil-cookie-"

// ErrSyncTimeout is returned when a sync does not complete in time.
var ErrSyncTimeout = errors.New("cookie sync timed out")

// ErrJarClosed is returned for syncs issued after Close.
var ErrJarClosed = errors.New("cookie jar is closed")

// Jar issues cookie syncs for one root.
//
// Thread-safety: all methods are safe for concurrent use.
type Jar struct {
	dir    string
	serial string // per-jar uniquifier so concurrent daemons don't collide
	log    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]chan error
	closed  bool
}

// NewJar creates a jar that writes cookies into dir.
func NewJar(dir string, log *slog.Logger) *Jar {
	return &Jar{
		dir:     dir,
		serial:  uuid.Must(uuid.NewV7()).String(),
		log:     log,
		pending: make(map[string]chan error),
	}
}

// Sync writes a cookie file and returns a completion channel that
// receives exactly one value: nil once the watcher observes the cookie,
// or an error if the jar shuts down first. The write itself can fail
// synchronously, e.g. when the root has been deleted.
func (j *Jar) Sync() (<-chan error, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, ErrJarClosed
	}
	j.seq++
	name := fmt.Sprintf("%s%s-%d", Prefix, j.serial, j.seq)
	done := make(chan error, 1)
	j.pending[name] = done
	j.mu.Unlock()

	path := filepath.Join(j.dir, name)
	f, err := os.Create(path)
	if err != nil {
		j.mu.Lock()
		delete(j.pending, name)
		j.mu.Unlock()
		return nil, fmt.Errorf("failed to create cookie %s: %w", path, err)
	}
	f.Close()

	return done, nil
}

// SyncToNow blocks for a sync to complete, up to timeout.
func (j *Jar) SyncToNow(timeout time.Duration) error {
	done, err := j.Sync()
	if err != nil {
		return err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrSyncTimeout
	}
}

// NotifyCookie reports that the watcher observed the creation of the
// named file. Non-cookie names and cookies from other jars are ignored.
// The cookie file is unlinked once consumed.
func (j *Jar) NotifyCookie(name string) {
	base := filepath.Base(name)

	j.mu.Lock()
	done, ok := j.pending[base]
	if ok {
		delete(j.pending, base)
	}
	j.mu.Unlock()

	if !ok {
		return
	}
	done <- nil

	if err := os.Remove(filepath.Join(j.dir, base)); err != nil && !os.IsNotExist(err) {
		j.log.Warn("failed to remove cookie", "cookie", base, "error", err)
	}
}

// IsCookieName reports whether a root-relative path names a cookie file.
func IsCookieName(name string) bool {
	base := filepath.Base(name)
	return len(base) > len(Prefix) && base[:len(Prefix)] == Prefix
}

// Close fails every pending sync and rejects new ones.
func (j *Jar) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	j.closed = true
	for name, done := range j.pending {
		done <- ErrJarClosed
		delete(j.pending, name)
	}
}
