package command

import (
	"fmt"
	"time"

	"github.com/vigil-watch/vigil/internal/pubsub"
	"github.com/vigil-watch/vigil/internal/root"
	"github.com/vigil-watch/vigil/internal/telemetry"
)

// stateArg is the parsed third argument of state-enter / state-leave.
type stateArg struct {
	name        string
	syncTimeout time.Duration
	metadata    any
}

// parseStateArg accepts either a bare state name or an object
// {name, metadata?, sync_timeout?}.
func parseStateArg(r *root.Root, args []any) (*stateArg, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("invalid number of arguments, expected 3, got %d", len(args))
	}

	parsed := &stateArg{syncTimeout: r.DefaultSyncTimeout}

	switch v := args[2].(type) {
	case string:
		parsed.name = v
		return parsed, nil
	case map[string]any:
		name, ok := v["name"].(string)
		if !ok {
			return nil, fmt.Errorf("missing or invalid state name")
		}
		parsed.name = name
		parsed.metadata = v["metadata"]
		if raw, present := v["sync_timeout"]; present {
			ms, isNum := raw.(float64)
			if !isNum || ms < 0 {
				return nil, fmt.Errorf("sync_timeout must be >= 0")
			}
			parsed.syncTimeout = time.Duration(ms) * time.Millisecond
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("invalid state argument")
	}
}

func cmdStateEnter(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	parsed, err := parseStateArg(r, args)
	if err != nil {
		return err
	}

	if _, held := c.stateLookup(parsed.name); held {
		return fmt.Errorf("state %s is already asserted", parsed.name)
	}

	a := root.NewClientStateAssertion(r, parsed.name)

	// Ask the root to track the assertion and maintain ordering. This
	// fails if the state is already asserted or pending assertion, so
	// it happens before the assertion is linked into the client.
	if err := r.QueueAssertion(a); err != nil {
		return err
	}

	r.StateTransCount.Add(1)
	telemetry.StateTransitions.WithLabelValues(r.Path).Inc()
	c.stateAdd(parsed.name, a)

	// The synchronous ack goes out before any broadcast so a client
	// with an active subscription on this root sees them in order.
	c.SendResponse(map[string]any{
		"root":        r.Path,
		"state-enter": parsed.name,
	})

	go func() {
		if err := r.View().SyncToNow(parsed.syncTimeout); err != nil {
			// The sync failed; don't let this assertion clog up and
			// block further attempts. Mark it done and remove it from
			// the root. The client side goes away when the client
			// disconnects or tries to leave the state.
			c.Log.Error("state-enter sync failed", "state", parsed.name, "error", err)
			telemetry.CookieSyncFailures.WithLabelValues(r.Path).Inc()
			r.RemoveAssertion(a)
			return
		}

		payload := pubsub.Payload{
			"root":        r.Path,
			"clock":       r.View().GetCurrentClockString(),
			"state-enter": parsed.name,
		}
		if parsed.metadata != nil {
			payload["metadata"] = parsed.metadata
		}

		r.WithAssertedStates(func(v root.AssertedStatesView) {
			a.Disposition = root.Asserted
			if v.IsFront(a) {
				v.Broadcast(payload)
			} else {
				// Defer until this assertion reaches the front of the
				// queue; RemoveAssertion sends it at that point.
				a.EnterPayload = payload
			}
		})
	}()

	return nil
}

func cmdStateLeave(c *Client, args []any) error {
	r, err := resolveRoot(c, args)
	if err != nil {
		return err
	}
	parsed, err := parseStateArg(r, args)
	if err != nil {
		return err
	}

	a, held := c.stateLookup(parsed.name)
	if !held {
		return fmt.Errorf("state %s is not asserted", parsed.name)
	}

	// Mark as pending leave; the state isn't vacated until the sync
	// cookie comes back.
	vacated := false
	r.WithAssertedStates(func(root.AssertedStatesView) {
		if a.Disposition == root.Done {
			vacated = true
			return
		}
		a.Disposition = root.PendingLeave
	})
	if vacated {
		// The root already finished with this assertion (e.g. its
		// enter sync failed); drop the stale client-side handle.
		c.stateRemove(parsed.name)
		return fmt.Errorf("state %s was implicitly vacated", parsed.name)
	}

	// Remove the association from the client now; the root keeps its
	// reference until the far side of the sync.
	c.stateRemove(parsed.name)

	c.SendResponse(map[string]any{
		"root":        r.Path,
		"state-leave": parsed.name,
	})

	go func() {
		if err := r.View().SyncToNow(parsed.syncTimeout); err != nil {
			// Log the failure but still complete the leave, so the
			// FIFO head keeps moving and re-entries of this name are
			// not blocked forever.
			c.Log.Error("state-leave sync failed", "state", parsed.name, "error", err)
			telemetry.CookieSyncFailures.WithLabelValues(r.Path).Inc()
		}
		leaveState(nil, a, false, parsed.metadata)
	}()

	return nil
}

func init() {
	Register(Def{
		Name:        "state-enter",
		Handler:     cmdStateEnter,
		Flags:       FlagDaemon,
		CLIValidate: validateRealpathRoot,
	})
	Register(Def{
		Name:        "state-leave",
		Handler:     cmdStateLeave,
		Flags:       FlagDaemon,
		CLIValidate: validateRealpathRoot,
	})
}
