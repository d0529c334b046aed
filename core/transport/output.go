package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

const playbackQueueCapacity = 64

// AudioSink is the playback side a concrete transport implements.
type AudioSink interface {
	WriteAudio(audio []byte, sampleRate, numChannels int) error
}

// PlaybackClearer is implemented by sinks that can drop audio already
// handed to the device, for immediate interruption response.
type PlaybackClearer interface {
	ClearPlayback() error
}

// BaseOutput is the rendering endpoint of a transport: it paces
// synthesized audio into the sink from a background task and cuts
// playback dead the moment an interruption opens.
type BaseOutput struct {
	*pipeline.BaseProcessor

	params Params
	sink   AudioSink

	sampleRate int

	playQueue chan *frames.OutputAudioFrame

	// taskMu guards the start/stop handshake: Start and Cancel/End are
	// dispatched synchronously and may arrive on different goroutines.
	taskMu   sync.Mutex
	started  bool
	playTask *pipeline.Task

	onStart func(*frames.StartFrame) error
	onStop  func()
}

type BaseOutputOption func(*BaseOutput)

func WithOutputStartHook(hook func(*frames.StartFrame) error) BaseOutputOption {
	return func(t *BaseOutput) { t.onStart = hook }
}

func WithOutputStopHook(hook func()) BaseOutputOption {
	return func(t *BaseOutput) { t.onStop = hook }
}

func NewBaseOutput(params Params, sink AudioSink, opts ...BaseOutputOption) *BaseOutput {
	t := &BaseOutput{
		params:    params,
		sink:      sink,
		playQueue: make(chan *frames.OutputAudioFrame, playbackQueueCapacity),
	}
	t.BaseProcessor = pipeline.NewBaseProcessor("BaseOutput", t)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *BaseOutput) HandleFrame(frame frames.Frame, direction frames.Direction) {
	switch f := frame.(type) {
	case *frames.StartFrame:
		t.PushFrame(frame, direction)
		t.start(f)
	case *frames.CancelFrame:
		t.stopPlayback()
		t.PushFrame(frame, direction)
	case *frames.StartInterruptionFrame:
		t.interrupt()
		t.PushFrame(frame, direction)
	case frames.System:
		t.PushFrame(frame, direction)
	case *frames.EndFrame:
		t.PushFrame(frame, direction)
		t.stopPlayback()
	case *frames.OutputAudioFrame:
		if t.params.AudioOutEnabled {
			t.playQueue <- f
		}
	default:
		t.PushFrame(frame, direction)
	}
}

// start runs once per session: a repeated StartFrame is forwarded but
// must not respawn the playback task or re-run the start hook.
func (t *BaseOutput) start(frame *frames.StartFrame) {
	t.taskMu.Lock()
	if t.started {
		t.taskMu.Unlock()
		return
	}
	t.started = true

	t.sampleRate = t.params.AudioOutSampleRate
	if t.sampleRate == 0 {
		t.sampleRate = frame.AudioOutSampleRate
	}

	if t.params.AudioOutEnabled {
		t.playTask = t.CreateTask("audio-output", t.playbackLoop)
	}
	t.taskMu.Unlock()

	if t.onStart != nil {
		if err := t.onStart(frame); err != nil {
			t.PushError(fmt.Errorf("transport start failed: %w", err), true)
		}
	}
}

func (t *BaseOutput) stopPlayback() {
	if t.onStop != nil {
		t.onStop()
	}

	t.taskMu.Lock()
	task := t.playTask
	t.playTask = nil
	t.taskMu.Unlock()
	if task != nil {
		t.CancelTask(task)
	}
}

// interrupt drops everything queued for playback and clears the sink's
// device buffer when it supports that. Interrupted speech must stop
// mid-word, not at the end of the buffer.
func (t *BaseOutput) interrupt() {
	for {
		select {
		case <-t.playQueue:
		default:
			if clearer, ok := t.sink.(PlaybackClearer); ok {
				if err := clearer.ClearPlayback(); err != nil {
					logger.Warn("failed to clear playback", "error", err)
				}
			}
			return
		}
	}
}

func (t *BaseOutput) playbackLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.playQueue:
			if t.sink == nil {
				continue
			}
			if err := t.sink.WriteAudio(frame.Audio, frame.SampleRate, frame.NumChannels); err != nil {
				t.PushError(fmt.Errorf("audio playback failed: %w", err), false)
			}
		}
	}
}
