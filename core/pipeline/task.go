package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadevoice/cascade-core/core/frames"
)

const submissionQueueCapacity = 256

// Params is the session configuration a PipelineTask hands to every
// processor on StartFrame.
type Params struct {
	AllowInterruptions bool
	AudioInSampleRate  int
	AudioOutSampleRate int
}

func defaultParams() Params {
	return Params{
		AudioInSampleRate:  16000,
		AudioOutSampleRate: 24000,
	}
}

// PipelineTask owns the lifetime of one top-level pipeline: it pushes
// StartFrame through the whole chain before anything else, delivers
// externally submitted frames strictly in submission order, and drives
// shutdown and cancellation.
type PipelineTask struct {
	params Params

	chain []FrameProcessor

	submissions chan frames.Frame

	cancelled  atomic.Bool
	ended      atomic.Bool
	finishOnce sync.Once
	finished   chan struct{}
}

type PipelineTaskOption func(*PipelineTask)

func WithParams(params Params) PipelineTaskOption {
	return func(t *PipelineTask) { t.params = params }
}

func NewPipelineTask(p FrameProcessor, opts ...PipelineTaskOption) *PipelineTask {
	t := &PipelineTask{
		params:      defaultParams(),
		submissions: make(chan frames.Frame, submissionQueueCapacity),
		finished:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	source := newTaskEdge("PipelineTaskSource", t, frames.DirectionUpstream)
	sink := newTaskEdge("PipelineTaskSink", t, frames.DirectionDownstream)
	t.chain = []FrameProcessor{source, p, sink}
	link(t.chain)

	return t
}

// QueueFrame appends a frame to the submission queue. Frames are
// delivered to the pipeline strictly in submission order.
func (t *PipelineTask) QueueFrame(frame frames.Frame) {
	if t.cancelled.Load() || t.ended.Load() {
		logger.Debug("dropping frame queued on finished task", "frame", frame.Name())
		return
	}
	if _, ok := frame.(*frames.EndFrame); ok {
		t.ended.Store(true)
	}
	t.submissions <- frame
}

// QueueFrames appends frames in order.
func (t *PipelineTask) QueueFrames(fs ...frames.Frame) {
	for _, f := range fs {
		t.QueueFrame(f)
	}
}

// StopWhenDone queues an EndFrame: every frame submitted before it is
// processed, then the chain winds down.
func (t *PipelineTask) StopWhenDone() {
	t.QueueFrame(frames.NewEndFrame())
}

// Run starts the pipeline and blocks until the chain has fully wound
// down or ctx is cancelled. StartFrame delivery is synchronous through
// the whole chain, so by the time the first queued frame is delivered
// every processor has completed its start-up work.
func (t *PipelineTask) Run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "pipeline.task.run",
		trace.WithAttributes(attribute.Int("pipeline.length", len(t.chain))))
	defer span.End()

	start := frames.NewStartFrame(
		frames.WithAllowInterruptions(t.params.AllowInterruptions),
		frames.WithAudioInSampleRate(t.params.AudioInSampleRate),
		frames.WithAudioOutSampleRate(t.params.AudioOutSampleRate),
	)
	t.chain[0].QueueFrame(start, frames.DirectionDownstream)

	deliveryCtx, stopDelivery := context.WithCancel(ctx)
	defer stopDelivery()
	go t.deliver(deliveryCtx)

	select {
	case <-ctx.Done():
		t.Cancel()
		<-t.finished
		return ctx.Err()
	case <-t.finished:
		return nil
	}
}

func (t *PipelineTask) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.submissions:
			t.chain[0].QueueFrame(frame, frames.DirectionDownstream)
			if _, ok := frame.(*frames.EndFrame); ok {
				return
			}
		}
	}
}

// Cancel injects a CancelFrame. Cancellation bypasses the submission
// queue: the frame takes the expedited system path through every
// processor ahead of any pending data.
func (t *PipelineTask) Cancel() {
	if t.cancelled.Swap(true) {
		return
	}
	t.chain[0].QueueFrame(frames.NewCancelFrame(), frames.DirectionDownstream)
	t.finishAfterDrain()
}

// HasFinished reports whether the terminal frame has fully drained
// through the chain and all background tasks have been joined.
func (t *PipelineTask) HasFinished() bool {
	select {
	case <-t.finished:
		return true
	default:
		return false
	}
}

func (t *PipelineTask) finishAfterDrain() {
	t.finishOnce.Do(func() {
		go func() {
			for _, p := range t.chain {
				p.waitShutdown()
			}
			close(t.finished)
		}()
	})
}

func (t *PipelineTask) handleUpstream(frame frames.Frame) {
	errorFrame, ok := frame.(*frames.ErrorFrame)
	if !ok {
		return
	}

	if errorFrame.Fatal {
		logger.Error("fatal pipeline error", "error", errorFrame.Err)
		// Cancel from a fresh goroutine: the error may originate from a
		// supervised task that cancellation would otherwise join on,
		// deadlocking against itself.
		go t.Cancel()
		return
	}
	logger.Warn("pipeline error", "error", errorFrame.Err)
}

func (t *PipelineTask) handleDownstream(frame frames.Frame) {
	if _, ok := frame.(*frames.EndFrame); ok {
		t.finishAfterDrain()
	}
}

// taskEdge sits at either end of the task's chain. Frames moving in
// its end direction exit the chain into the task's own handling;
// everything else forwards inward.
type taskEdge struct {
	*BaseProcessor

	task *PipelineTask
	end  frames.Direction
}

func newTaskEdge(name string, task *PipelineTask, end frames.Direction) *taskEdge {
	e := &taskEdge{task: task, end: end}
	e.BaseProcessor = NewBaseProcessor(name, e)
	return e
}

func (e *taskEdge) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if direction != e.end {
		e.PushFrame(frame, direction)
		return
	}
	switch e.end {
	case frames.DirectionUpstream:
		e.task.handleUpstream(frame)
	case frames.DirectionDownstream:
		e.task.handleDownstream(frame)
	}
}
