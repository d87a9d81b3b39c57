package root

import (
	"fmt"
	"sync"

	"github.com/vigil-watch/vigil/internal/pubsub"
)

// Disposition tracks where a state assertion is in its lifecycle.
//
//	PendingEnter --cookie ok, head-of-FIFO--> Asserted
//	Asserted --state-leave--> PendingLeave --cookie ok--> Done
//	PendingEnter --cookie fail--> Done (no broadcast)
//	Asserted --client disconnect--> Done (broadcast abandoned)
type Disposition int

const (
	PendingEnter Disposition = iota
	Asserted
	PendingLeave
	Done
)

func (d Disposition) String() string {
	switch d {
	case PendingEnter:
		return "pending-enter"
	case Asserted:
		return "asserted"
	case PendingLeave:
		return "pending-leave"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ClientStateAssertion is one client's claim on a named state.
//
// The root's FIFO holds the strong reference; the client session holds a
// weak handle that it drops on leave or disconnect. Disposition and
// EnterPayload are guarded by the root's asserted-states lock.
type ClientStateAssertion struct {
	Root *Root
	Name string

	Disposition Disposition

	// EnterPayload holds a deferred state-enter broadcast for an
	// assertion that reached Asserted while not at the head of its
	// FIFO. It is published when the assertion becomes the head.
	EnterPayload pubsub.Payload
}

// NewClientStateAssertion creates an assertion in PendingEnter.
func NewClientStateAssertion(r *Root, name string) *ClientStateAssertion {
	return &ClientStateAssertion{Root: r, Name: name, Disposition: PendingEnter}
}

// assertedStates is the per-root table of assertion FIFOs, one per state
// name. Only the head of a FIFO may broadcast; later entries defer.
type assertedStates struct {
	mu     sync.Mutex
	queues map[string][]*ClientStateAssertion
}

func newAssertedStates() *assertedStates {
	return &assertedStates{queues: make(map[string][]*ClientStateAssertion)}
}

// QueueAssertion appends the assertion to its name's FIFO.
//
// Uniqueness rule: a new entry is rejected while the head-of-line entry
// for that name is still live (not Done). A Done head that has not been
// cleaned up yet does not block a fresh enter; the FIFO discipline takes
// care of broadcast ordering.
func (r *Root) QueueAssertion(a *ClientStateAssertion) error {
	r.asserted.mu.Lock()
	defer r.asserted.mu.Unlock()

	queue := r.asserted.queues[a.Name]
	if len(queue) > 0 && queue[0].Disposition != Done {
		return fmt.Errorf("state %s is already asserted", a.Name)
	}
	r.asserted.queues[a.Name] = append(queue, a)
	return nil
}

// RemoveAssertion unlinks the assertion from its FIFO and advances the
// head. If the new head already reached Asserted with a deferred enter
// payload, that payload is broadcast now, preserving the rule that a
// state-enter is announced exactly once, at head-of-FIFO.
func (r *Root) RemoveAssertion(a *ClientStateAssertion) {
	var deferred pubsub.Payload

	r.asserted.mu.Lock()
	queue := r.asserted.queues[a.Name]
	for i, entry := range queue {
		if entry == a {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(r.asserted.queues, a.Name)
	} else {
		r.asserted.queues[a.Name] = queue
		head := queue[0]
		if head.Disposition == Asserted && head.EnterPayload != nil {
			deferred = head.EnterPayload
			head.EnterPayload = nil
		}
	}
	a.Disposition = Done
	if deferred != nil {
		// Enqueued under the lock so subscribers observe FIFO order.
		r.Unilateral.Enqueue(deferred)
	}
	r.asserted.mu.Unlock()

	r.StateTransCount.Add(1)
}

// isFront reports whether the assertion heads its FIFO. Must be called
// with the asserted-states lock held via WithAssertedStates.
func (r *Root) isFront(a *ClientStateAssertion) bool {
	queue := r.asserted.queues[a.Name]
	return len(queue) > 0 && queue[0] == a
}

// WithAssertedStates runs fn while holding the asserted-states lock.
// The callback gets a view with the head-inspection helpers; it must not
// start a cookie sync while the lock is held.
func (r *Root) WithAssertedStates(fn func(view AssertedStatesView)) {
	r.asserted.mu.Lock()
	defer r.asserted.mu.Unlock()
	fn(AssertedStatesView{root: r})
}

// AssertedStatesView exposes head-of-FIFO checks under the lock.
type AssertedStatesView struct {
	root *Root
}

// IsFront reports whether a heads its FIFO.
func (v AssertedStatesView) IsFront(a *ClientStateAssertion) bool {
	return v.root.isFront(a)
}

// Broadcast enqueues a payload while still holding the lock, so payloads
// enqueued under it are delivered to each subscriber in enqueue order.
func (v AssertedStatesView) Broadcast(payload pubsub.Payload) {
	v.root.Unilateral.Enqueue(payload)
}
