package trigger

import (
	"runtime"
	"time"

	"github.com/vigil-watch/vigil/internal/query"
)

// longPoll bounds the idle wait between pings. The loop only acts on
// pings; the timeout exists so a stuck signal cannot park the goroutine
// forever.
const longPoll = 24 * time.Hour

// Start subscribes the trigger to its root's unilateral bus and runs
// the loop goroutine. A started trigger must be stopped before it is
// dropped; letting the garbage collector reap a running trigger is a
// programmer error and aborts the process.
func (c *Command) Start() {
	c.sub = c.root.Unilateral.Subscribe(c.notifyPing)
	c.active.Store(true)
	c.wg.Add(1)
	go c.run()

	runtime.SetFinalizer(c, func(cmd *Command) {
		if cmd.active.Load() {
			panic("destroying trigger " + cmd.name + " without stopping it first")
		}
	})
}

// Stop shuts the loop down and joins it. Idempotent.
func (c *Command) Stop() {
	if !c.active.Load() {
		return
	}
	c.stop.Store(true)
	c.notifyPing()
	c.wg.Wait()
	c.sub.Unsubscribe()
	c.active.Store(false)
	runtime.SetFinalizer(c, nil)
}

// notifyPing is the edge-triggered wakeup; extra edges coalesce.
func (c *Command) notifyPing() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

func (c *Command) testAndClearPing() bool {
	select {
	case <-c.ping:
		return true
	default:
		return false
	}
}

func (c *Command) run() {
	defer c.wg.Done()

	c.log.Debug("waiting for settle")

	timer := time.NewTimer(longPoll)
	defer timer.Stop()

	for !c.stop.Load() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(longPoll)

		pinged := false
		select {
		case <-c.ping:
			pinged = true
		case <-timer.C:
		}
		if c.stop.Load() {
			break
		}

		for pinged {
			pending := c.sub.GetPending()
			seenSettle := false
			for _, item := range pending {
				if item.IsSettle() {
					seenSettle = true
					break
				}
			}
			if seenSettle {
				if c.maybeSpawn() {
					c.waitNoIntr()
				}
			}
			pinged = c.testAndClearPing()
		}
	}

	if c.current != nil {
		c.current.Kill()
		c.current.Wait()
		c.current = nil
	}
	c.log.Debug("out of trigger loop")
}

// maybeSpawn re-runs the stored query and spawns the command when the
// result set is non-empty. Returns true when a child was launched.
func (c *Command) maybeSpawn() bool {
	// A repo in the middle of a rebase or similar produces a storm of
	// intermediate states; defer until the VCS operation completes.
	if c.root.View().IsVCSOperationInProgress() {
		c.log.Debug("deferring trigger until VCS operation completes")
		return false
	}

	// Triggers never need to sync: they are dispatched at settle
	// points, which are by definition synchronized to the present.
	c.query.SyncTimeout = 0

	res, err := query.Execute(c.query, c.root.View(), nil, c.opts.Saved)
	if err != nil {
		c.log.Error("error running trigger query", "error", err)
		return false
	}

	c.log.Debug("trigger query generated results", "count", len(res.ResultsArray))

	// The next run picks up where this one started.
	prior := c.query.SinceSpec
	c.query.SinceSpec = res.ClockAtStartOfQuery

	if len(res.ResultsArray) == 0 {
		return false
	}
	c.spawnCommand(res, prior)
	return true
}

// waitNoIntr reaps an already-terminated child without blocking; the
// next ping drives another check. Triggers never block the loop on a
// live child.
func (c *Command) waitNoIntr() bool {
	if !c.stop.Load() && c.current != nil && c.current.Terminated() {
		c.current = nil
		return true
	}
	return false
}
