// Package root ties one watched tree together: its view, cookie jar,
// unilateral bus, asserted-state FIFOs and trigger set, plus the settle
// detection that drives trigger firing.
package root

import (
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigil-watch/vigil/internal/clock"
	"github.com/vigil-watch/vigil/internal/config"
	"github.com/vigil-watch/vigil/internal/cookie"
	"github.com/vigil-watch/vigil/internal/pubsub"
	"github.com/vigil-watch/vigil/internal/telemetry"
	"github.com/vigil-watch/vigil/internal/view"
	"github.com/vigil-watch/vigil/internal/watcher"
)

// DefaultSettle is the quiescence interval after which a root announces
// a settle point when neither the daemon options nor the per-root config
// set one.
const DefaultSettle = 20 * time.Millisecond

// Trigger is the root's handle on a registered trigger. The concrete
// type lives in the trigger package; the root only needs to stop it and
// compare definitions.
type Trigger interface {
	Name() string
	Definition() map[string]any
	Stop()
}

// Options configures a root at watch time.
type Options struct {
	// Settle is the quiescence interval for settle announcements.
	Settle time.Duration

	// DefaultSyncTimeout is the sync timeout applied to state commands
	// that do not carry their own.
	DefaultSyncTimeout time.Duration

	Log *slog.Logger
}

// Root is one watched directory tree.
//
// Ownership: the root exclusively owns its view, cookie jar, publisher
// and asserted-state FIFOs. Triggers are owned by the root's trigger
// table; client sessions hold only weak handles on state assertions.
type Root struct {
	Path string

	Ticker     *clock.Ticker
	Cookies    *cookie.Jar
	Unilateral *pubsub.Publisher

	// StateTransCount counts state transitions for the life of the root.
	StateTransCount atomic.Uint64

	DefaultSyncTimeout time.Duration

	log      *slog.Logger
	view     *view.MemView
	asserted *assertedStates
	watcher  watcher.Watcher
	settle   time.Duration
	reapAge  time.Duration

	triggerMu sync.Mutex
	triggers  map[string]Trigger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a root over path, crawls the initial tree and starts
// consuming watcher events.
func New(path string, w watcher.Watcher, opts Options) (*Root, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("root", path)

	settle := opts.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	syncTimeout := opts.DefaultSyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = 60 * time.Second
	}

	// Per-root config overrides the daemon defaults. A malformed file
	// fails the watch rather than silently reverting to defaults.
	rootCfg, err := config.LoadRoot(path)
	if err != nil {
		return nil, err
	}
	if rootCfg.SettleMS > 0 {
		settle = time.Duration(rootCfg.SettleMS) * time.Millisecond
	}
	if rootCfg.SyncTimeoutMS > 0 {
		syncTimeout = time.Duration(rootCfg.SyncTimeoutMS) * time.Millisecond
	}
	reapAge := time.Duration(rootCfg.IdleReapAgeSeconds) * time.Second

	ticker := clock.NewTicker(time.Now().Unix())
	jar := cookie.NewJar(path, log)

	r := &Root{
		Path:               path,
		Ticker:             ticker,
		Cookies:            jar,
		Unilateral:         pubsub.NewPublisher(),
		DefaultSyncTimeout: syncTimeout,
		log:                log,
		view:               view.NewMemView(path, ticker, jar, log),
		asserted:           newAssertedStates(),
		watcher:            w,
		settle:             settle,
		reapAge:            reapAge,
		triggers:           make(map[string]Trigger),
		done:               make(chan struct{}),
	}

	if err := r.view.Crawl(); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

// View returns the queryable view of this root.
func (r *Root) View() *view.MemView {
	return r.view
}

// run consumes watcher events, feeds the view, and announces settle
// points after quiescence.
func (r *Root) run() {
	defer r.wg.Done()

	settleTimer := time.NewTimer(r.settle)
	defer settleTimer.Stop()
	pendingSettle := false

	for {
		select {
		case <-r.done:
			return

		case ev, ok := <-r.watcher.Events():
			if !ok {
				return
			}
			rel, err := filepath.Rel(r.Path, ev.Path)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			isCookie := cookie.IsCookieName(rel)
			r.view.Observe(rel)
			if !isCookie {
				pendingSettle = true
			}
			if !settleTimer.Stop() {
				select {
				case <-settleTimer.C:
				default:
				}
			}
			settleTimer.Reset(r.settle)

		case err, ok := <-r.watcher.Errors():
			if ok {
				r.log.Warn("watcher error", "error", err)
			}

		case <-settleTimer.C:
			if pendingSettle {
				pendingSettle = false
				r.Unilateral.Enqueue(pubsub.Payload{
					"root":    r.Path,
					"settled": true,
					"clock":   r.view.GetCurrentClockString(),
				})
				telemetry.SettleBroadcasts.WithLabelValues(r.Path).Inc()
				r.maybeAgeOut()
			}
			settleTimer.Reset(r.settle)
		}
	}
}

// maybeAgeOut reaps long-deleted entries from the view once per reap
// interval, when the root opts in via idle_reap_age_seconds.
func (r *Root) maybeAgeOut() {
	if r.reapAge <= 0 {
		return
	}
	last := r.view.GetLastAgeOutTimeStamp()
	if !last.IsZero() && time.Since(last) < r.reapAge {
		return
	}
	if err := r.view.AgeOut(r.reapAge); err != nil {
		r.log.Warn("age-out failed", "error", err)
	}
}

// SetTrigger installs (or replaces) the named trigger and returns the
// previous one, which the caller must stop.
func (r *Root) SetTrigger(name string, t Trigger) Trigger {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()
	old := r.triggers[name]
	r.triggers[name] = t
	return old
}

// GetTrigger returns the named trigger, or nil.
func (r *Root) GetTrigger(name string) Trigger {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()
	return r.triggers[name]
}

// DeleteTrigger removes and returns the named trigger. The caller must
// stop it.
func (r *Root) DeleteTrigger(name string) (Trigger, bool) {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()
	t, ok := r.triggers[name]
	if ok {
		delete(r.triggers, name)
	}
	return t, ok
}

// TriggerDefinitions returns the raw definitions of every registered
// trigger, for trigger-list and state persistence.
func (r *Root) TriggerDefinitions() []map[string]any {
	r.triggerMu.Lock()
	defer r.triggerMu.Unlock()
	defs := make([]map[string]any, 0, len(r.triggers))
	for _, t := range r.triggers {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Stop shuts the root down: triggers first (so nothing re-queries a
// dying view), then the watcher loop and the cookie jar.
func (r *Root) Stop() {
	r.stopOnce.Do(func() {
		r.triggerMu.Lock()
		triggers := make([]Trigger, 0, len(r.triggers))
		for _, t := range r.triggers {
			triggers = append(triggers, t)
		}
		r.triggers = make(map[string]Trigger)
		r.triggerMu.Unlock()
		for _, t := range triggers {
			t.Stop()
		}

		close(r.done)
		r.watcher.Close()
		r.wg.Wait()
		r.Cookies.Close()
	})
}
