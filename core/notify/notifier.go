// Package notify provides the broadcast rendezvous primitive used to
// coordinate concurrently running pipeline branches.
package notify

import (
	"context"
	"sync"
)

// Notifier is a payload-free broadcast rendezvous: Wait blocks until
// the next Notify, and a single Notify wakes every goroutine currently
// blocked in Wait.
type Notifier interface {
	Notify()
	Wait(ctx context.Context) error
}

// EventNotifier implements Notifier with a condition variable plus a
// generation counter. The counter is what makes wake-ups lossless: a
// waiter records the generation before blocking and wakes as soon as
// the generation moves, even if the signal fired between the two.
type EventNotifier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	generation uint64
}

func NewEventNotifier() *EventNotifier {
	n := &EventNotifier{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

func (n *EventNotifier) Notify() {
	n.mu.Lock()
	n.generation++
	n.mu.Unlock()
	n.cond.Broadcast()
}

// Wait blocks until the next Notify or until ctx is done. It returns
// ctx.Err() when cancelled.
func (n *EventNotifier) Wait(ctx context.Context) error {
	n.mu.Lock()
	generation := n.generation
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Take the lock before broadcasting so the nudge cannot
			// land between the waiter's ctx check and its cond.Wait.
			n.mu.Lock()
			n.mu.Unlock()
			n.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	n.mu.Lock()
	defer n.mu.Unlock()
	for n.generation == generation {
		if err := ctx.Err(); err != nil {
			return err
		}
		n.cond.Wait()
	}
	return nil
}
