package command

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vigil-watch/vigil/internal/pubsub"
	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/telemetry"
	"github.com/vigil-watch/vigil/internal/trigger"
)

// PDUSender carries command responses back to one connected client. The server's connection implements it; tests use a
// channel-backed fake.
type PDUSender interface {
	SendPDU(payload map[string]any) error
}

// Client is one connected session's daemon-side state.
type Client struct {
	Roots *root.Registry
	Conn  PDUSender
	Log   *slog.Logger

	// SockName is handed to trigger children as WATCHMAN_SOCK.
	SockName string

	// TriggerOpts carries the process-wide context for triggers
	// created through this session.
	TriggerOpts trigger.Options

	// ClientMode is set when the CLI runs a one-shot command in
	// process; sync timeouts are forced to zero because there is no
	// daemon to catch up with.
	ClientMode bool

	// states maps asserted state names to this session's assertions.
	// The root's FIFO holds the owning reference; entries here are the
	// client-side handle that state-leave and disconnect act on.
	statesMu sync.Mutex
	states   map[string]*root.ClientStateAssertion
}

// NewClient creates a session against the given root registry.
func NewClient(roots *root.Registry, conn PDUSender, log *slog.Logger) *Client {
	return &Client{
		Roots:  roots,
		Conn:   conn,
		Log:    log,
		states: make(map[string]*root.ClientStateAssertion),
	}
}

// SendResponse sends a success PDU.
func (c *Client) SendResponse(payload map[string]any) {
	if err := c.Conn.SendPDU(payload); err != nil {
		c.Log.Warn("failed to send response", "error", err)
	}
}

// SendError sends an error PDU.
func (c *Client) SendError(format string, args ...any) {
	c.SendResponse(map[string]any{"error": fmt.Sprintf(format, args...)})
}

func (c *Client) stateLookup(name string) (*root.ClientStateAssertion, bool) {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	a, ok := c.states[name]
	return a, ok
}

func (c *Client) stateAdd(name string, a *root.ClientStateAssertion) {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	c.states[name] = a
}

func (c *Client) stateRemove(name string) {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	delete(c.states, name)
}

// Dispatch routes one decoded PDU through the registry. Unknown
// commands and handler errors become error PDUs; handlers send their
// own success responses.
func (c *Client) Dispatch(args []any, mode Flags) {
	if len(args) == 0 {
		c.SendError("invalid command (expected an array with some elements!)")
		return
	}
	name, ok := args[0].(string)
	if !ok {
		c.SendError("invalid command: expected element 0 to be the command name")
		return
	}
	def, ok := Lookup(name, mode)
	if !ok {
		c.SendError("unknown command %s", name)
		return
	}
	if err := def.Handler(c, args); err != nil {
		c.SendError("%s", err)
	}
}

// Disconnect abandons whatever the session left behind: every assertion
// still alive is implicitly vacated with an abandoned broadcast.
func (c *Client) Disconnect() {
	c.statesMu.Lock()
	remaining := make(map[string]*root.ClientStateAssertion, len(c.states))
	for name, a := range c.states {
		remaining[name] = a
	}
	c.states = make(map[string]*root.ClientStateAssertion)
	c.statesMu.Unlock()

	for name, a := range remaining {
		alive := true
		a.Root.WithAssertedStates(func(root.AssertedStatesView) {
			alive = a.Disposition != root.Done
		})
		if !alive {
			continue
		}
		c.Log.Error("implicitly vacating state due to client disconnect",
			"state", name, "root", a.Root.Path)
		leaveState(nil, a, true, nil)
	}
}

// resolveRoot maps args[1] to a watched root.
func resolveRoot(c *Client, args []any) (*root.Root, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("invalid root argument")
	}
	return c.Roots.Get(path)
}

// leaveState broadcasts a state-leave and unlinks the assertion.
// Shared by the explicit leave path and the disconnect vacate path.
func leaveState(c *Client, a *root.ClientStateAssertion, abandoned bool, metadata any) {
	r := a.Root
	payload := pubsub.Payload{
		"root":        r.Path,
		"clock":       r.View().GetCurrentClockString(),
		"state-leave": a.Name,
	}
	if metadata != nil {
		payload["metadata"] = metadata
	}
	if abandoned {
		payload["abandoned"] = true
	}
	r.Unilateral.Enqueue(payload)

	r.RemoveAssertion(a)
	telemetry.StateTransitions.WithLabelValues(r.Path).Inc()

	if c != nil {
		c.stateRemove(a.Name)
	}
}
