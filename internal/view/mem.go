package view

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-watch/vigil/internal/clock"
	"github.com/vigil-watch/vigil/internal/cookie"
	"github.com/vigil-watch/vigil/internal/query"
)

// fileEntry is the view's record of one file.
type fileEntry struct {
	name        string
	exists      bool
	size        int64
	mode        uint32
	mtime       time.Time
	ctime       time.Time
	createdTick uint64 // tick at which the view first saw this name
	otimeTick   uint64 // tick of the most recent observed change
}

// MemView is the in-memory concrete view: a file table maintained from
// watcher observations, with a recency order for since queries.
//
// Thread-safety: observations take the write lock; generators take the
// read lock and work on a snapshot of matching entries, so a slow query
// never blocks the notification thread for its whole run.
type MemView struct {
	BaseView

	rootPath string
	ticker   *clock.Ticker
	jar      *cookie.Jar
	log      *slog.Logger

	mu    sync.RWMutex
	files map[string]*fileEntry

	lastAgeOutTick atomic.Uint64
	lastAgeOutTime atomic.Pointer[time.Time]
}

// NewMemView creates an empty view over rootPath, stamping observations
// from ticker and completing cookie syncs through jar.
func NewMemView(rootPath string, ticker *clock.Ticker, jar *cookie.Jar, log *slog.Logger) *MemView {
	return &MemView{
		rootPath: rootPath,
		ticker:   ticker,
		jar:      jar,
		log:      log,
		files:    make(map[string]*fileEntry),
	}
}

// Observe records that the named root-relative path changed. The view
// stats the file to refresh its metadata; a failed stat marks the entry
// deleted. Cookie sentinels complete their pending sync and are not
// entered into the table.
func (v *MemView) Observe(name string) {
	if cookie.IsCookieName(name) {
		v.jar.NotifyCookie(name)
		return
	}

	st, err := os.Lstat(filepath.Join(v.rootPath, name))
	if err == nil && st.IsDir() {
		// The table tracks files; directory containers are implied by
		// their children's names.
		return
	}

	tick := v.ticker.Next()

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, known := v.files[name]
	if !known {
		entry = &fileEntry{name: name, createdTick: tick, ctime: time.Now()}
		v.files[name] = entry
	}
	entry.otimeTick = tick

	if err != nil {
		entry.exists = false
		return
	}
	entry.exists = true
	entry.size = st.Size()
	entry.mode = uint32(st.Mode())
	entry.mtime = st.ModTime()
}

// ObserveStat is Observe for callers that already hold the file's
// metadata (tests, crawl). A nil info marks the entry deleted.
func (v *MemView) ObserveStat(name string, info fs.FileInfo) {
	if info != nil && info.IsDir() {
		return
	}
	tick := v.ticker.Next()

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, known := v.files[name]
	if !known {
		entry = &fileEntry{name: name, createdTick: tick, ctime: time.Now()}
		v.files[name] = entry
	}
	entry.otimeTick = tick
	if info == nil {
		entry.exists = false
		return
	}
	entry.exists = true
	entry.size = info.Size()
	entry.mode = uint32(info.Mode())
	entry.mtime = info.ModTime()
}

// Crawl seeds the table by walking the tree. Used at watch start.
func (v *MemView) Crawl() error {
	return filepath.WalkDir(v.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tree is racing us; skip
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(v.rootPath, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if cookie.IsCookieName(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		v.ObserveStat(rel, info)
		return nil
	})
}

func (v *MemView) CurrentPosition() clock.Position {
	return v.ticker.Position()
}

func (v *MemView) GetCurrentClockString() string {
	return v.ticker.Position().ToClockString()
}

func (v *MemView) SyncToNow(timeout time.Duration) error {
	err := v.jar.SyncToNow(timeout)
	if err == cookie.ErrSyncTimeout {
		return &query.SyncTimeoutError{TimeoutMS: timeout.Milliseconds()}
	}
	return err
}

// DoAnyOfTheseFilesExist consults the view (not the filesystem) for the
// named root-relative paths.
func (v *MemView) DoAnyOfTheseFilesExist(names []string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, name := range names {
		if entry, ok := v.files[name]; ok && entry.exists {
			return true
		}
	}
	return false
}

func (v *MemView) IsVCSOperationInProgress() bool {
	return v.DoAnyOfTheseFilesExist(VCSLockFiles)
}

func (v *MemView) GetLastAgeOutTickValue() uint64 {
	return v.lastAgeOutTick.Load()
}

func (v *MemView) GetLastAgeOutTimeStamp() time.Time {
	if t := v.lastAgeOutTime.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// AgeOut forgets deleted entries whose last recorded modification time
// (mtime) is older than minAge; the time of the deletion is not tracked.
func (v *MemView) AgeOut(minAge time.Duration) error {
	threshold := time.Now().Add(-minAge)

	v.mu.Lock()
	defer v.mu.Unlock()
	for name, entry := range v.files {
		if entry.exists || entry.mtime.After(threshold) {
			continue
		}
		if entry.otimeTick > v.lastAgeOutTick.Load() {
			v.lastAgeOutTick.Store(entry.otimeTick)
		}
		delete(v.files, name)
	}
	now := time.Now()
	v.lastAgeOutTime.Store(&now)
	return nil
}

// snapshot returns entries matching keep, ordered by recency (most
// recently changed first) for the time generator, or by name otherwise.
func (v *MemView) snapshot(byRecency bool, keep func(*fileEntry) bool) []fileEntry {
	v.mu.RLock()
	out := make([]fileEntry, 0, len(v.files))
	for _, entry := range v.files {
		if keep(entry) {
			out = append(out, *entry)
		}
	}
	v.mu.RUnlock()

	if byRecency {
		sort.Slice(out, func(i, j int) bool { return out[i].otimeTick > out[j].otimeTick })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	}
	return out
}

// TimeGenerator emits entries observed after the query's since spec.
// A since spec that predates the last age-out is treated as a fresh
// instance: every existing file is emitted.
func (v *MemView) TimeGenerator(q *query.Query, ctx *query.Context) error {
	since := q.SinceSpec
	if since == nil {
		return query.NewExecError("timeGenerator requires a since spec")
	}

	if since.Tag == clock.TagRelative {
		threshold := time.Now().Add(-since.Relative)
		return v.emit(ctx, 0, v.snapshot(true, func(e *fileEntry) bool {
			return e.mtime.After(threshold)
		}))
	}

	sinceTicks := since.Position.Ticks
	if since.Position.WallTime != v.ticker.Position().WallTime ||
		sinceTicks < v.GetLastAgeOutTickValue() {
		// The spec belongs to an earlier life of this root, or names
		// ticks we have already forgotten. Degrade to a fresh instance.
		ctx.FreshInstance = true
		return v.emit(ctx, 0, v.snapshot(true, func(e *fileEntry) bool {
			return e.exists
		}))
	}

	return v.emit(ctx, sinceTicks, v.snapshot(true, func(e *fileEntry) bool {
		return e.otimeTick > sinceTicks
	}))
}

func (v *MemView) AllFilesGenerator(q *query.Query, ctx *query.Context) error {
	return v.emit(ctx, 0, v.snapshot(false, func(e *fileEntry) bool { return true }))
}

func (v *MemView) PathGenerator(q *query.Query, ctx *query.Context) error {
	keep := func(e *fileEntry) bool {
		for _, spec := range q.Paths {
			if e.name == spec.Name {
				return true
			}
			prefix := spec.Name + "/"
			if spec.Name == "" {
				prefix = ""
			}
			if !strings.HasPrefix(e.name, prefix) {
				continue
			}
			if spec.Depth < 0 {
				return true
			}
			depth := int64(strings.Count(e.name[len(prefix):], "/"))
			if depth <= spec.Depth {
				return true
			}
		}
		return false
	}
	return v.emit(ctx, 0, v.snapshot(false, keep))
}

func (v *MemView) GlobGenerator(q *query.Query, ctx *query.Context) error {
	keep := func(e *fileEntry) bool {
		for _, pattern := range q.Globs {
			if matched, err := filepath.Match(pattern, e.name); err == nil && matched {
				return true
			}
		}
		return false
	}
	return v.emit(ctx, 0, v.snapshot(false, keep))
}

func (v *MemView) emit(ctx *query.Context, sinceTicks uint64, entries []fileEntry) error {
	for i := range entries {
		file := &memFileResult{entry: entries[i], sinceTicks: sinceTicks}
		if err := ctx.ProcessFile(file); err != nil {
			return err
		}
	}
	return nil
}

// memFileResult adapts a table snapshot to query.FileResult. Every field
// is already loaded, so LoadFields never defers.
type memFileResult struct {
	entry      fileEntry
	sinceTicks uint64
}

func (f *memFileResult) Name() string { return f.entry.name }

func (f *memFileResult) Exists() (bool, bool) { return f.entry.exists, true }

func (f *memFileResult) IsNew() (bool, bool) {
	return f.entry.createdTick > f.sinceTicks, true
}

func (f *memFileResult) Size() (int64, bool) { return f.entry.size, true }

func (f *memFileResult) Mode() (uint32, bool) { return f.entry.mode, true }

func (f *memFileResult) MTime() (time.Time, bool) { return f.entry.mtime, true }

func (f *memFileResult) CTime() (time.Time, bool) { return f.entry.ctime, true }

func (f *memFileResult) OTime() uint64 { return f.entry.otimeTick }

func (f *memFileResult) LoadFields(query.FieldSet) error { return nil }
