package command

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigil-watch/vigil/internal/cookie"
	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn collects the PDUs a handler sends.
type fakeConn struct {
	mu   sync.Mutex
	pdus []map[string]any
}

func (f *fakeConn) SendPDU(payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pdus = append(f.pdus, payload)
	return nil
}

func (f *fakeConn) take() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pdus
	f.pdus = nil
	return out
}

// fixture is a daemon-in-miniature: one watched root over a fake
// watcher, with a pump that feeds cookie file creations back through
// the watcher so syncs complete.
type fixture struct {
	reg    *root.Registry
	root   *root.Root
	fake   *watcher.FakeWatcher
	conn   *fakeConn
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixtureNoPump(t)
	f.startCookiePump(t)
	return f
}

func newFixtureNoPump(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	fakes := make(map[string]*watcher.FakeWatcher)
	var mu sync.Mutex

	reg := root.NewRegistry(func(path string, log *slog.Logger) (watcher.Watcher, error) {
		w := watcher.NewFake()
		mu.Lock()
		fakes[path] = w
		mu.Unlock()
		return w, nil
	}, root.Options{
		Settle:             10 * time.Millisecond,
		DefaultSyncTimeout: 5 * time.Second,
		Log:                testLogger(),
	})
	t.Cleanup(reg.StopAll)

	r, err := reg.Watch(dir)
	require.NoError(t, err)

	mu.Lock()
	fake := fakes[r.Path]
	mu.Unlock()
	require.NotNil(t, fake)

	f := &fixture{
		reg:  reg,
		root: r,
		fake: fake,
		conn: &fakeConn{},
	}
	f.client = NewClient(reg, f.conn, testLogger())
	return f
}

// startCookiePump polls the root for cookie files and injects their
// creation events, standing in for a real notification backend.
func (f *fixture) startCookiePump(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		seen := make(map[string]bool)
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
			}
			entries, err := os.ReadDir(f.root.Path)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !strings.HasPrefix(e.Name(), cookie.Prefix) || seen[e.Name()] {
					continue
				}
				seen[e.Name()] = true
				select {
				case <-done:
					return
				default:
				}
				f.fake.Inject(watcher.Event{
					Path: filepath.Join(f.root.Path, e.Name()),
					Op:   watcher.OpCreate,
				})
			}
		}
	}()
}

// dispatch runs one command as the fixture client.
func (f *fixture) dispatch(args ...any) {
	f.client.Dispatch(args, FlagDaemon)
}

// responses waits for at least one PDU and returns them all.
func (f *fixture) responses(t *testing.T) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		f.conn.mu.Lock()
		defer f.conn.mu.Unlock()
		return len(f.pdusLocked()) > 0
	}, time.Second, time.Millisecond)
	return f.conn.take()
}

func (f *fixture) pdusLocked() []map[string]any {
	return f.conn.pdus
}
