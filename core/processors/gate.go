package processors

import (
	"context"
	"sync"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/notify"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// OutputGate withholds downstream frames until its notifier fires,
// serializing one branch's output against another branch's decision.
//
// While closed, data and control frames flowing downstream are
// buffered in arrival order. A background task waits on the notifier;
// each wake opens the gate and flushes the buffer. StartInterruption
// clears the buffer and forces the gate closed regardless of notifier
// state: interrupted content is stale and is discarded, not deferred.
// System frames and function-call frames always pass unconditionally.
type OutputGate struct {
	*pipeline.BaseProcessor

	notifier notify.Notifier

	mu        sync.Mutex
	started   bool
	open      bool
	startOpen bool
	buffer    []bufferedFrame
	epoch     uint64
	gateTask  *pipeline.Task
}

type bufferedFrame struct {
	frame     frames.Frame
	direction frames.Direction
}

type OutputGateOption func(*OutputGate)

// WithStartOpen starts the gate open, for chains whose very first
// content is pre-authorized (e.g. an initial greeting).
func WithStartOpen() OutputGateOption {
	return func(g *OutputGate) { g.startOpen = true }
}

func NewOutputGate(notifier notify.Notifier, opts ...OutputGateOption) *OutputGate {
	g := &OutputGate{notifier: notifier}
	g.BaseProcessor = pipeline.NewBaseProcessor("OutputGate", g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *OutputGate) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if _, system := frame.(frames.System); system {
		switch frame.(type) {
		case *frames.StartFrame:
			g.start()
		case *frames.StartInterruptionFrame:
			g.interrupt()
		case *frames.CancelFrame:
			g.stop()
		}
		g.PushFrame(frame, direction)
		return
	}

	if _, ok := frame.(*frames.EndFrame); ok {
		g.stop()
		g.PushFrame(frame, direction)
		return
	}

	switch frame.(type) {
	case *frames.FunctionCallInProgressFrame, *frames.FunctionCallResultFrame:
		g.PushFrame(frame, direction)
		return
	}

	if direction != frames.DirectionDownstream {
		g.PushFrame(frame, direction)
		return
	}

	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		g.PushFrame(frame, direction)
		return
	}
	g.buffer = append(g.buffer, bufferedFrame{frame: frame, direction: direction})
	g.mu.Unlock()
}

// start initializes the session exactly once. A repeated StartFrame is
// forwarded by the caller but must not reset the gate: held frames and
// the open state belong to the session already in progress.
func (g *OutputGate) start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true
	g.open = g.startOpen
	g.gateTask = g.CreateTask("gate-release", g.releaseLoop)
}

func (g *OutputGate) stop() {
	g.mu.Lock()
	task := g.gateTask
	g.gateTask = nil
	g.mu.Unlock()

	// CancelTask joins the release loop, which takes mu.
	if task != nil {
		g.CancelTask(task)
	}
}

// interrupt discards the buffer and forces the gate closed. Bumping
// the epoch invalidates any release the notifier authorized before the
// interruption: that decision was about content that no longer exists.
func (g *OutputGate) interrupt() {
	g.mu.Lock()
	g.buffer = nil
	g.open = false
	g.epoch++
	g.mu.Unlock()
}

func (g *OutputGate) releaseLoop(ctx context.Context) {
	for {
		g.mu.Lock()
		epoch := g.epoch
		g.mu.Unlock()

		if err := g.notifier.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		g.mu.Lock()
		if g.epoch != epoch {
			// Stale release: an interruption happened while waiting.
			g.mu.Unlock()
			continue
		}
		g.open = true
		held := g.buffer
		g.buffer = nil
		g.mu.Unlock()

		for _, b := range held {
			g.PushFrame(b.frame, b.direction)
		}
	}
}
