package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cascadevoice/cascade-core/core/frames"
)

const processorQueueCapacity = 128

// FrameProcessor is a node in a pipeline chain. Implementations embed
// *BaseProcessor, which owns delivery, linkage and supervised-task
// bookkeeping; the union is closed on purpose so every processor goes
// through the same bookkeeping before any type-specific handling.
type FrameProcessor interface {
	Name() string

	// QueueFrame delivers a frame to this processor. System frames are
	// dispatched immediately on the calling goroutine; everything else
	// goes through the processor's ordered queue.
	QueueFrame(frame frames.Frame, direction frames.Direction)

	setLink(chain []FrameProcessor, index int)
	waitShutdown()
}

// FrameHandler is the processor-specific half of frame dispatch. It
// runs after the shared bookkeeping and is responsible for forwarding
// every frame it does not consume (PushFrame keeps the original
// direction).
//
// System frames may be handled on any goroutine: handlers must guard
// their state and must not hold locks across PushFrame calls.
type FrameHandler interface {
	HandleFrame(frame frames.Frame, direction frames.Direction)
}

type delivery struct {
	frame     frames.Frame
	direction frames.Direction
	gen       uint64
}

// BaseProcessor implements the delivery contract shared by every
// processor: expedited dispatch for system frames, an ordered queue
// drained by a worker goroutine for data and control frames, queued
// frame disposal on interruptions, and supervised background tasks
// whose cancellation joins before returning.
type BaseProcessor struct {
	name    string
	handler FrameHandler

	linkMu sync.RWMutex
	chain  []FrameProcessor
	index  int

	queue    chan delivery
	queueGen atomic.Uint64

	stateMu            sync.Mutex
	started            bool
	shuttingDown       bool
	interrupted        bool
	allowInterruptions bool

	ctx    context.Context
	cancel context.CancelFunc

	tasksMu sync.Mutex
	tasks   map[*Task]struct{}

	workerDone chan struct{}
}

// NewBaseProcessor builds the shared processor core. handler may be
// nil, in which case every frame is forwarded unchanged.
func NewBaseProcessor(name string, handler FrameHandler) *BaseProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BaseProcessor{
		name:       name,
		handler:    handler,
		index:      -1,
		queue:      make(chan delivery, processorQueueCapacity),
		ctx:        ctx,
		cancel:     cancel,
		tasks:      map[*Task]struct{}{},
		workerDone: make(chan struct{}),
	}
}

func (b *BaseProcessor) Name() string { return b.name }

func (b *BaseProcessor) setLink(chain []FrameProcessor, index int) {
	b.linkMu.Lock()
	b.chain = chain
	b.index = index
	b.linkMu.Unlock()
}

// Started reports whether the processor has observed a StartFrame.
func (b *BaseProcessor) Started() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.started
}

// InterruptionsAllowed reports the session-wide interruption setting
// delivered on StartFrame.
func (b *BaseProcessor) InterruptionsAllowed() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.allowInterruptions
}

func (b *BaseProcessor) QueueFrame(frame frames.Frame, direction frames.Direction) {
	if _, ok := frame.(frames.System); ok {
		b.dispatch(frame, direction)
		return
	}

	b.stateMu.Lock()
	closing := b.shuttingDown
	b.stateMu.Unlock()
	if closing {
		logger.Debug("dropping frame on closed processor",
			"processor", b.name, "frame", frame.Name())
		return
	}

	b.queue <- delivery{frame: frame, direction: direction, gen: b.queueGen.Load()}
}

func (b *BaseProcessor) dispatch(frame frames.Frame, direction frames.Direction) {
	switch f := frame.(type) {
	case *frames.StartFrame:
		b.handleStart(f)
	case *frames.StartInterruptionFrame:
		if !b.openInterruption() {
			// A window is already open; two opens without a close
			// would violate the interruption contract, so the frame
			// stops here.
			return
		}
	case *frames.StopInterruptionFrame:
		b.closeInterruption()
	}

	if b.handler != nil {
		b.handler.HandleFrame(frame, direction)
	} else {
		b.PushFrame(frame, direction)
	}

	switch frame.(type) {
	case *frames.CancelFrame, *frames.EndFrame:
		b.shutdown()
	}
}

func (b *BaseProcessor) handleStart(frame *frames.StartFrame) {
	b.stateMu.Lock()
	if b.started {
		b.stateMu.Unlock()
		logger.Warn("ignoring repeated StartFrame", "processor", b.name)
		return
	}
	b.started = true
	b.allowInterruptions = frame.AllowInterruptions
	b.stateMu.Unlock()

	go b.worker()
}

// openInterruption reports whether a new interruption window was
// opened. Opening one discards every frame currently queued: the
// interrupted content is stale by definition.
func (b *BaseProcessor) openInterruption() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.interrupted {
		return false
	}
	b.interrupted = true
	b.queueGen.Add(1)
	return true
}

func (b *BaseProcessor) closeInterruption() {
	b.stateMu.Lock()
	b.interrupted = false
	b.stateMu.Unlock()
}

func (b *BaseProcessor) worker() {
	defer close(b.workerDone)
	for {
		select {
		case <-b.ctx.Done():
			return
		case d := <-b.queue:
			if d.gen != b.queueGen.Load() {
				continue
			}
			b.dispatch(d.frame, d.direction)
			if _, ok := d.frame.(*frames.EndFrame); ok {
				return
			}
		}
	}
}

// shutdown cancels every supervised task and stops the worker. It runs
// after Cancel/End frames have been forwarded, so downstream neighbors
// receive them from a processor that has not torn down yet.
func (b *BaseProcessor) shutdown() {
	b.stateMu.Lock()
	if b.shuttingDown {
		b.stateMu.Unlock()
		return
	}
	b.shuttingDown = true
	b.stateMu.Unlock()

	b.tasksMu.Lock()
	tasks := make([]*Task, 0, len(b.tasks))
	for t := range b.tasks {
		tasks = append(tasks, t)
	}
	b.tasksMu.Unlock()
	for _, t := range tasks {
		b.CancelTask(t)
	}

	b.cancel()
}

// waitShutdown blocks until the processor's worker has exited and its
// supervised tasks are joined. Only meaningful once a terminal frame
// (End or Cancel) has been delivered.
func (b *BaseProcessor) waitShutdown() {
	b.stateMu.Lock()
	started := b.started
	b.stateMu.Unlock()

	if started {
		<-b.workerDone
		return
	}
	<-b.ctx.Done()
}

// PushFrame forwards a frame to the neighbor in the given direction. A
// frame pushed past the end of the chain is dropped.
func (b *BaseProcessor) PushFrame(frame frames.Frame, direction frames.Direction) {
	if _, system := frame.(frames.System); !system && !b.Started() {
		logger.Warn("pushing frame from unstarted processor",
			"processor", b.name, "frame", frame.Name())
	}

	b.linkMu.RLock()
	var target FrameProcessor
	switch direction {
	case frames.DirectionDownstream:
		if b.index >= 0 && b.index+1 < len(b.chain) {
			target = b.chain[b.index+1]
		}
	case frames.DirectionUpstream:
		if b.index > 0 {
			target = b.chain[b.index-1]
		}
	}
	b.linkMu.RUnlock()

	if target == nil {
		return
	}
	target.QueueFrame(frame, direction)
}

// PushError reports a processing failure upstream.
func (b *BaseProcessor) PushError(err error, fatal bool) {
	b.PushFrame(frames.NewErrorFrame(fmt.Errorf("%s: %w", b.name, err), fatal), frames.DirectionUpstream)
}

// Task is a supervised background task owned by a processor.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// CreateTask spawns a supervised goroutine. The task must observe ctx
// at every suspension point and exit promptly once it is cancelled.
func (b *BaseProcessor) CreateTask(name string, run func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(b.ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}

	b.tasksMu.Lock()
	b.tasks[t] = struct{}{}
	b.tasksMu.Unlock()

	go func() {
		defer close(t.done)
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error("task panicked",
					"processor", b.name, "task", name, "panic", fmt.Sprint(recovered))
			}
		}()
		run(ctx)
	}()

	return t
}

// CancelTask requests cancellation and joins the task. The task is
// guaranteed dead, cleanup included, by the time CancelTask returns.
func (b *BaseProcessor) CancelTask(t *Task) {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done

	b.tasksMu.Lock()
	delete(b.tasks, t)
	b.tasksMu.Unlock()
}
