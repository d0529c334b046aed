package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadevoice/cascade-core/core/audio/turn"
	"github.com/cascadevoice/cascade-core/core/audio/vad"
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
	"github.com/cascadevoice/cascade-core/core/pool"
)

const (
	audioQueueCapacity = 64
	defaultChunkSizeMS = 20
)

// BaseInput is the audio ingestion endpoint of a transport. Concrete
// transports feed captured audio through PushAudioFrame; the input
// loop serializes classification so voice-activity and end-of-turn
// results reflect real temporal order, and emits speaking-transition
// frames on committed QUIET/SPEAKING edges only.
//
// It also hosts the interruption state machine: speaking transitions
// open and close the chain's interruption window.
type BaseInput struct {
	*pipeline.BaseProcessor

	params Params

	sampleRate int

	winMu            sync.Mutex
	interruptionOpen bool

	audioQueue chan *frames.InputAudioFrame

	// taskMu guards the start/stop handshake: Start and Cancel/End are
	// dispatched synchronously and may arrive on different goroutines.
	taskMu    sync.Mutex
	started   bool
	audioTask *pipeline.Task
	classify  *pool.Serial

	onStart func(*frames.StartFrame) error
	onStop  func()
}

type BaseInputOption func(*BaseInput)

// WithInputStartHook runs after the input's own start-up work; a
// returned error fails chain start-up.
func WithInputStartHook(hook func(*frames.StartFrame) error) BaseInputOption {
	return func(t *BaseInput) { t.onStart = hook }
}

// WithInputStopHook runs when the input tears down, on both the End
// and Cancel paths.
func WithInputStopHook(hook func()) BaseInputOption {
	return func(t *BaseInput) { t.onStop = hook }
}

func NewBaseInput(params Params, opts ...BaseInputOption) *BaseInput {
	t := &BaseInput{
		params:     params,
		audioQueue: make(chan *frames.InputAudioFrame, audioQueueCapacity),
	}
	t.BaseProcessor = pipeline.NewBaseProcessor("BaseInput", t)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *BaseInput) SampleRate() int { return t.sampleRate }

// PushAudioFrame hands captured audio to the serialized input loop.
func (t *BaseInput) PushAudioFrame(frame *frames.InputAudioFrame) {
	if !t.params.AudioInEnabled && !t.params.VADEnabled {
		return
	}
	t.audioQueue <- frame
}

func (t *BaseInput) HandleFrame(frame frames.Frame, direction frames.Direction) {
	switch f := frame.(type) {
	case *frames.StartFrame:
		// Push first: every processor must observe StartFrame before
		// anything the start-up work emits.
		t.PushFrame(frame, direction)
		t.start(f)
	case *frames.CancelFrame:
		t.stopAudio()
		t.PushFrame(frame, direction)
	case *frames.BotInterruptionFrame:
		t.handleBotInterruption()
	case *frames.EmulateUserStartedSpeakingFrame:
		logger.Debug("emulating user started speaking")
		f2 := frames.NewUserStartedSpeakingFrame()
		f2.Emulated = true
		t.handleUserFrame(f2)
	case *frames.EmulateUserStoppedSpeakingFrame:
		logger.Debug("emulating user stopped speaking")
		f2 := frames.NewUserStoppedSpeakingFrame()
		f2.Emulated = true
		t.handleUserFrame(f2)
	case *frames.VADParamsUpdateFrame:
		t.updateVADParams(f)
	case *frames.FilterUpdateSettingsFrame:
		if t.params.AudioInFilter != nil {
			if err := t.params.AudioInFilter.UpdateSettings(f.Settings); err != nil {
				t.PushError(fmt.Errorf("failed to update filter settings: %w", err), false)
			}
		}
	case frames.System:
		t.PushFrame(frame, direction)
	case *frames.EndFrame:
		// Push first: downstream must receive End from a processor
		// that has not torn down its queues yet.
		t.PushFrame(frame, direction)
		t.stopAudio()
	default:
		t.PushFrame(frame, direction)
	}
}

// start runs once per session: a repeated StartFrame is forwarded but
// must not re-run analyzer setup or the transport's start hook.
func (t *BaseInput) start(frame *frames.StartFrame) {
	t.taskMu.Lock()
	if t.started {
		t.taskMu.Unlock()
		return
	}
	t.started = true
	t.taskMu.Unlock()

	t.sampleRate = t.params.AudioInSampleRate
	if t.sampleRate == 0 {
		t.sampleRate = frame.AudioInSampleRate
	}

	if t.params.VADEnabled && t.params.VADAnalyzer != nil {
		t.params.VADAnalyzer.SetSampleRate(t.sampleRate)
	}
	if t.params.TurnAnalyzer != nil {
		t.params.TurnAnalyzer.SetSampleRate(t.sampleRate)
		t.params.TurnAnalyzer.SetChunkSizeMS(defaultChunkSizeMS)
	}
	if t.params.AudioInFilter != nil {
		if err := t.params.AudioInFilter.Start(t.sampleRate); err != nil {
			// A half-initialized input stage must fail chain start-up,
			// not limp along.
			t.PushError(fmt.Errorf("failed to start audio filter: %w", err), true)
			return
		}
	}

	if t.params.AudioInEnabled || t.params.VADEnabled {
		t.taskMu.Lock()
		t.classify = pool.NewSerial()
		t.audioTask = t.CreateTask("audio-input", t.audioLoop)
		t.taskMu.Unlock()
	}

	if t.onStart != nil {
		if err := t.onStart(frame); err != nil {
			t.PushError(fmt.Errorf("transport start failed: %w", err), true)
		}
	}
}

func (t *BaseInput) stopAudio() {
	if t.onStop != nil {
		t.onStop()
	}
	t.taskMu.Lock()
	task := t.audioTask
	t.audioTask = nil
	t.taskMu.Unlock()

	// The loop is joined before its pool closes so no submission races
	// the close.
	if task != nil {
		t.CancelTask(task)
	}

	t.taskMu.Lock()
	classify := t.classify
	t.classify = nil
	t.taskMu.Unlock()
	if classify != nil {
		classify.Close()
	}
	if t.params.AudioInFilter != nil {
		if err := t.params.AudioInFilter.Stop(); err != nil {
			logger.Warn("failed to stop audio filter", "error", err)
		}
	}
}

func (t *BaseInput) updateVADParams(frame *frames.VADParamsUpdateFrame) {
	if !t.params.VADEnabled || t.params.VADAnalyzer == nil {
		return
	}
	var params vad.Params
	if err := copier.Copy(&params, &frame.Params); err != nil {
		t.PushError(fmt.Errorf("failed to copy vad params: %w", err), false)
		return
	}
	t.params.VADAnalyzer.SetParams(params)
}

// openWindow reports whether a new interruption window was opened; at
// most one is open at a time.
func (t *BaseInput) openWindow() bool {
	t.winMu.Lock()
	defer t.winMu.Unlock()
	if t.interruptionOpen {
		return false
	}
	t.interruptionOpen = true
	return true
}

func (t *BaseInput) closeWindow() bool {
	t.winMu.Lock()
	defer t.winMu.Unlock()
	if !t.interruptionOpen {
		return false
	}
	t.interruptionOpen = false
	return true
}

func (t *BaseInput) handleBotInterruption() {
	logger.Debug("bot interruption")
	if !t.InterruptionsAllowed() {
		return
	}
	if t.openWindow() {
		t.PushFrame(frames.NewStartInterruptionFrame(), frames.DirectionDownstream)
	}
}

func (t *BaseInput) handleUserFrame(frame frames.Frame) {
	switch frame.(type) {
	case *frames.UserStartedSpeakingFrame:
		logger.Debug("user started speaking")
		t.PushFrame(frame, frames.DirectionDownstream)
		if t.InterruptionsAllowed() && t.openWindow() {
			// Out of band so it reaches the output stage without being
			// delayed by any buffering component.
			t.PushFrame(frames.NewStartInterruptionFrame(), frames.DirectionDownstream)
		}
	case *frames.UserStoppedSpeakingFrame:
		logger.Debug("user stopped speaking")
		t.PushFrame(frame, frames.DirectionDownstream)
		if t.InterruptionsAllowed() && t.closeWindow() {
			t.PushFrame(frames.NewStopInterruptionFrame(), frames.DirectionDownstream)
		}
	case *frames.UserEndOfTurnFrame:
		logger.Debug("user end of turn")
		t.PushFrame(frame, frames.DirectionDownstream)
	}
}

// audioLoop pulls one raw-audio frame at a time and runs the
// classifiers through the capacity-1 pool, so results can never be
// observed out of temporal order even when classification blocks.
func (t *BaseInput) audioLoop(ctx context.Context) {
	vadState := vad.StateQuiet
	turnState := turn.StateIncomplete

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-t.audioQueue:
			passthrough := true

			if t.params.AudioInFilter != nil {
				filtered, err := t.params.AudioInFilter.Filter(frame.Audio)
				if err != nil {
					t.PushError(fmt.Errorf("audio filter failed: %w", err), false)
				} else {
					frame.Audio = filtered
				}
			}

			if t.params.VADEnabled && t.params.VADAnalyzer != nil {
				vadState = t.handleVAD(ctx, frame, vadState)
				passthrough = t.params.VADAudioPassthrough
			}

			if t.params.TurnAnalyzer != nil {
				isSpeech := vadState == vad.StateSpeaking || vadState == vad.StateStarting
				turnState = t.handleEndOfTurn(ctx, frame, turnState, isSpeech)
			}

			if passthrough {
				t.PushFrame(frame, frames.DirectionDownstream)
			}
		}
	}
}

func (t *BaseInput) handleVAD(ctx context.Context, frame *frames.InputAudioFrame, vadState vad.State) vad.State {
	result, err := t.classify.Submit(ctx, func() (any, error) {
		return t.params.VADAnalyzer.Analyze(frame.Audio)
	})
	if err != nil {
		if ctx.Err() == nil {
			t.PushError(fmt.Errorf("vad analysis failed: %w", err), false)
		}
		return vadState
	}

	newState := result.(vad.State)
	if newState == vadState || newState == vad.StateStarting || newState == vad.StateStopping {
		return vadState
	}

	// Only committed QUIET/SPEAKING edges are externally visible.
	span := trace.SpanFromContext(ctx)
	switch newState {
	case vad.StateSpeaking:
		span.AddEvent("user started speaking")
		t.handleUserFrame(frames.NewUserStartedSpeakingFrame())
	case vad.StateQuiet:
		span.AddEvent("user stopped speaking")
		t.handleUserFrame(frames.NewUserStoppedSpeakingFrame())
	}
	return newState
}

func (t *BaseInput) handleEndOfTurn(ctx context.Context, frame *frames.InputAudioFrame, turnState turn.State, isSpeech bool) turn.State {
	result, err := t.classify.Submit(ctx, func() (any, error) {
		return t.params.TurnAnalyzer.Analyze(frame.Audio, isSpeech)
	})
	if err != nil {
		if ctx.Err() == nil {
			t.PushError(fmt.Errorf("end-of-turn analysis failed: %w", err), false)
		}
		return turnState
	}

	newState := result.(turn.State)
	if newState != turnState {
		t.handleUserFrame(frames.NewUserEndOfTurnFrame())
	}
	return newState
}
