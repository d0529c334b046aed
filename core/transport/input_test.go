package transport

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cascadevoice/cascade-core/core/audio"
	"github.com/cascadevoice/cascade-core/core/audio/turn"
	"github.com/cascadevoice/cascade-core/core/audio/vad"
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// recorder captures every frame it handles and forwards it on.
type recorder struct {
	*pipeline.BaseProcessor

	mu     sync.Mutex
	frames []frames.Frame
}

func newRecorder(name string) *recorder {
	r := &recorder{}
	r.BaseProcessor = pipeline.NewBaseProcessor(name, r)
	return r
}

func (r *recorder) HandleFrame(frame frames.Frame, direction frames.Direction) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
	r.PushFrame(frame, direction)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		if f.Name() == name {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frames.Frame(nil), r.frames...)
}

func waitForCount(t *testing.T, r *recorder, name string, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for r.count(name) < want {
		select {
		case <-deadline:
			t.Fatalf("expected %d %s frames, saw %d", want, name, r.count(name))
		case <-time.After(time.Millisecond):
		}
	}
}

type vadResult struct {
	state vad.State
	err   error
}

// scriptedVAD replays a fixed sequence of results, holding the last
// one once the script runs out.
type scriptedVAD struct {
	mu      sync.Mutex
	script  []vadResult
	last    vadResult
	params  vad.Params
	sampled int
}

func newScriptedVAD(script ...vadResult) *scriptedVAD {
	return &scriptedVAD{script: script, params: vad.DefaultParams()}
}

func (a *scriptedVAD) SetSampleRate(sampleRate int) {
	a.mu.Lock()
	a.sampled = sampleRate
	a.mu.Unlock()
}

func (a *scriptedVAD) SetParams(params vad.Params) {
	a.mu.Lock()
	a.params = params
	a.mu.Unlock()
}

func (a *scriptedVAD) Params() vad.Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

func (a *scriptedVAD) Analyze([]byte) (vad.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.script) > 0 {
		a.last = a.script[0]
		a.script = a.script[1:]
	}
	return a.last.state, a.last.err
}

// scriptedTurn replays a fixed sequence of end-of-turn states.
type scriptedTurn struct {
	mu     sync.Mutex
	script []turn.State
	last   turn.State
}

func (a *scriptedTurn) SetSampleRate(int) {}
func (a *scriptedTurn) SetChunkSizeMS(int) {}

func (a *scriptedTurn) Analyze([]byte, bool) (turn.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.script) > 0 {
		a.last = a.script[0]
		a.script = a.script[1:]
	}
	return a.last, nil
}

func startInputChain(t *testing.T, input *BaseInput) (*recorder, *recorder) {
	t.Helper()
	up := newRecorder("up")
	down := newRecorder("down")
	p, err := pipeline.New(up, input, down)
	if err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	p.QueueFrame(
		frames.NewStartFrame(frames.WithAllowInterruptions(true)),
		frames.DirectionDownstream,
	)
	t.Cleanup(func() {
		p.QueueFrame(frames.NewCancelFrame(), frames.DirectionDownstream)
	})
	return up, down
}

func pushChunks(input *BaseInput, n int) {
	for range n {
		input.PushAudioFrame(frames.NewInputAudioFrame(make([]byte, 320), 16000, 1))
	}
}

func TestCommittedSpeakingEdgesEmitTransitionFrames(t *testing.T) {
	analyzer := newScriptedVAD(
		vadResult{state: vad.StateQuiet},
		vadResult{state: vad.StateStarting},
		vadResult{state: vad.StateSpeaking},
		vadResult{state: vad.StateSpeaking},
		vadResult{state: vad.StateStopping},
		vadResult{state: vad.StateQuiet},
	)
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 6)

	waitForCount(t, down, "UserStartedSpeakingFrame", 1)
	waitForCount(t, down, "UserStoppedSpeakingFrame", 1)

	// Transitional states never leak out as transitions.
	if got := down.count("UserStartedSpeakingFrame"); got != 1 {
		t.Fatalf("expected exactly one started-speaking frame, saw %d", got)
	}
	if got := down.count("UserStoppedSpeakingFrame"); got != 1 {
		t.Fatalf("expected exactly one stopped-speaking frame, saw %d", got)
	}
}

func TestSpeakingTransitionsDriveTheInterruptionWindow(t *testing.T) {
	analyzer := newScriptedVAD(
		vadResult{state: vad.StateSpeaking},
		vadResult{state: vad.StateSpeaking},
		vadResult{state: vad.StateQuiet},
	)
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 3)

	waitForCount(t, down, "StartInterruptionFrame", 1)
	waitForCount(t, down, "StopInterruptionFrame", 1)
}

func TestClassifierErrorsAreNonFatalAndStateIsKept(t *testing.T) {
	cause := errors.New("model not loaded")
	analyzer := newScriptedVAD(
		vadResult{state: vad.StateQuiet, err: cause},
		vadResult{state: vad.StateQuiet, err: cause},
		vadResult{state: vad.StateSpeaking},
	)
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
	})
	up, down := startInputChain(t, input)

	pushChunks(input, 3)

	waitForCount(t, up, "ErrorFrame", 2)
	for _, f := range up.snapshot() {
		if errorFrame, ok := f.(*frames.ErrorFrame); ok && errorFrame.Fatal {
			t.Fatalf("expected classifier errors to be non-fatal, got %v", errorFrame.Err)
		}
	}

	// The loop keeps classifying after errors.
	waitForCount(t, down, "UserStartedSpeakingFrame", 1)
}

func TestVADAudioPassthroughForwardsRawAudio(t *testing.T) {
	analyzer := newScriptedVAD(vadResult{state: vad.StateQuiet})
	input := NewBaseInput(Params{
		AudioInEnabled:      true,
		VADEnabled:          true,
		VADAudioPassthrough: true,
		VADAnalyzer:         analyzer,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 4)

	waitForCount(t, down, "InputAudioFrame", 4)
}

func TestVADWithoutPassthroughConsumesRawAudio(t *testing.T) {
	analyzer := newScriptedVAD(vadResult{state: vad.StateQuiet})
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 4)

	time.Sleep(50 * time.Millisecond)
	if got := down.count("InputAudioFrame"); got != 0 {
		t.Fatalf("expected raw audio to be consumed, saw %d frames", got)
	}
}

func TestEndOfTurnTransitionEmitsFrame(t *testing.T) {
	analyzer := newScriptedVAD(vadResult{state: vad.StateSpeaking})
	turnAnalyzer := &scriptedTurn{script: []turn.State{
		turn.StateIncomplete,
		turn.StateIncomplete,
		turn.StateComplete,
	}}
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
		TurnAnalyzer:   turnAnalyzer,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 3)

	waitForCount(t, down, "UserEndOfTurnFrame", 1)
}

func TestEmulatedSpeakingFramesAreMarked(t *testing.T) {
	input := NewBaseInput(Params{AudioInEnabled: true})
	_, down := startInputChain(t, input)

	input.QueueFrame(frames.NewEmulateUserStartedSpeakingFrame(), frames.DirectionDownstream)
	input.QueueFrame(frames.NewEmulateUserStoppedSpeakingFrame(), frames.DirectionDownstream)

	waitForCount(t, down, "UserStartedSpeakingFrame", 1)
	for _, f := range down.snapshot() {
		if started, ok := f.(*frames.UserStartedSpeakingFrame); ok && !started.Emulated {
			t.Fatalf("expected the emulated frame to be marked")
		}
	}
	if got := down.count("StartInterruptionFrame"); got != 1 {
		t.Fatalf("expected the emulated transition to open an interruption, saw %d", got)
	}
	if got := down.count("StopInterruptionFrame"); got != 1 {
		t.Fatalf("expected the emulated transition to close the interruption, saw %d", got)
	}
}

func TestBotInterruptionOpensWindowOnce(t *testing.T) {
	input := NewBaseInput(Params{AudioInEnabled: true})
	_, down := startInputChain(t, input)

	input.QueueFrame(frames.NewBotInterruptionFrame(), frames.DirectionDownstream)
	input.QueueFrame(frames.NewBotInterruptionFrame(), frames.DirectionDownstream)

	if got := down.count("StartInterruptionFrame"); got != 1 {
		t.Fatalf("expected a single interruption window, saw %d", got)
	}
}

func TestVADParamsUpdateReachesTheAnalyzer(t *testing.T) {
	analyzer := newScriptedVAD(vadResult{state: vad.StateQuiet})
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		VADEnabled:     true,
		VADAnalyzer:    analyzer,
	})
	startInputChain(t, input)

	input.QueueFrame(frames.NewVADParamsUpdateFrame(vad.Params{
		Confidence: 0.5,
		StartSecs:  0.1,
		StopSecs:   0.4,
		MinVolume:  0.3,
	}), frames.DirectionDownstream)

	if got := analyzer.Params().MinVolume; got != 0.3 {
		t.Fatalf("expected updated params on the analyzer, got min volume %v", got)
	}
}

// markerFilter replaces each chunk with a fixed marker and records
// settings updates.
type markerFilter struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	settings map[string]any
}

func (f *markerFilter) Start(int) error { f.mu.Lock(); f.started = true; f.mu.Unlock(); return nil }
func (f *markerFilter) Stop() error     { f.mu.Lock(); f.stopped = true; f.mu.Unlock(); return nil }

func (f *markerFilter) Filter([]byte) ([]byte, error) {
	return []byte("filtered"), nil
}

func (f *markerFilter) UpdateSettings(settings map[string]any) error {
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
	return nil
}

var _ audio.Filter = (*markerFilter)(nil)

func TestInputFilterRewritesAudioBeforeClassification(t *testing.T) {
	filter := &markerFilter{}
	input := NewBaseInput(Params{
		AudioInEnabled: true,
		AudioInFilter:  filter,
	})
	_, down := startInputChain(t, input)

	pushChunks(input, 1)

	waitForCount(t, down, "InputAudioFrame", 1)
	for _, f := range down.snapshot() {
		if audioFrame, ok := f.(*frames.InputAudioFrame); ok {
			if !bytes.Equal(audioFrame.Audio, []byte("filtered")) {
				t.Fatalf("expected filtered audio, got %q", audioFrame.Audio)
			}
		}
	}

	input.QueueFrame(frames.NewFilterUpdateSettingsFrame(map[string]any{"gain": 2}), frames.DirectionDownstream)
	filter.mu.Lock()
	gain := filter.settings["gain"]
	filter.mu.Unlock()
	if gain != 2 {
		t.Fatalf("expected the settings update to reach the filter, got %v", gain)
	}
}

func TestRepeatedStartFrameRunsTheInputStartHookOnce(t *testing.T) {
	starts := 0
	input := NewBaseInput(Params{},
		WithInputStartHook(func(*frames.StartFrame) error {
			starts++
			return nil
		}))
	rec := newRecorder("rec")
	p, err := pipeline.New(input, rec)
	if err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	t.Cleanup(func() {
		p.QueueFrame(frames.NewCancelFrame(), frames.DirectionDownstream)
	})

	p.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	p.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)

	waitForCount(t, rec, "StartFrame", 2)
	if starts != 1 {
		t.Fatalf("expected the start hook to run once, ran %d times", starts)
	}
}
