package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// fakeSink records writes and can block mid-write to hold the playback
// loop still.
type fakeSink struct {
	writes  chan []byte
	block   chan struct{}
	cleared chan struct{}
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		writes:  make(chan []byte, 64),
		cleared: make(chan struct{}, 1),
	}
}

func (s *fakeSink) WriteAudio(audio []byte, sampleRate, numChannels int) error {
	s.writes <- audio
	if s.block != nil {
		<-s.block
	}
	return s.err
}

func (s *fakeSink) ClearPlayback() error {
	select {
	case s.cleared <- struct{}{}:
	default:
	}
	return nil
}

func startOutputChain(t *testing.T, output *BaseOutput) (*recorder, *pipeline.Pipeline) {
	t.Helper()
	up := newRecorder("up")
	p, err := pipeline.New(up, output)
	if err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	p.QueueFrame(frames.NewStartFrame(frames.WithAllowInterruptions(true)), frames.DirectionDownstream)
	t.Cleanup(func() {
		p.QueueFrame(frames.NewCancelFrame(), frames.DirectionDownstream)
	})
	return up, p
}

func TestOutputAudioFramesReachTheSink(t *testing.T) {
	sink := newFakeSink()
	output := NewBaseOutput(Params{AudioOutEnabled: true}, sink)
	_, p := startOutputChain(t, output)

	p.QueueFrame(frames.NewOutputAudioFrame([]byte("pcm"), 24000, 1), frames.DirectionDownstream)

	select {
	case audio := <-sink.writes:
		if string(audio) != "pcm" {
			t.Fatalf("expected the frame's audio, got %q", audio)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the audio to reach the sink")
	}
}

func TestOutputAudioIsDroppedWhenDisabled(t *testing.T) {
	sink := newFakeSink()
	output := NewBaseOutput(Params{AudioOutEnabled: false}, sink)
	_, p := startOutputChain(t, output)

	p.QueueFrame(frames.NewOutputAudioFrame([]byte("pcm"), 24000, 1), frames.DirectionDownstream)

	select {
	case <-sink.writes:
		t.Fatalf("expected no writes with audio output disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInterruptionDropsQueuedPlaybackAndClearsTheSink(t *testing.T) {
	sink := newFakeSink()
	sink.block = make(chan struct{})
	output := NewBaseOutput(Params{AudioOutEnabled: true}, sink)
	_, p := startOutputChain(t, output)

	p.QueueFrame(frames.NewOutputAudioFrame([]byte("one"), 24000, 1), frames.DirectionDownstream)
	p.QueueFrame(frames.NewOutputAudioFrame([]byte("two"), 24000, 1), frames.DirectionDownstream)
	p.QueueFrame(frames.NewOutputAudioFrame([]byte("three"), 24000, 1), frames.DirectionDownstream)

	// The first write is in flight and blocked; the rest are queued.
	select {
	case <-sink.writes:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the first write to start")
	}
	time.Sleep(50 * time.Millisecond)

	p.QueueFrame(frames.NewStartInterruptionFrame(), frames.DirectionDownstream)

	select {
	case <-sink.cleared:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the sink's playback to be cleared")
	}

	close(sink.block)
	select {
	case audio := <-sink.writes:
		t.Fatalf("expected queued audio to be dropped, got %q", audio)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSinkWriteFailureIsNonFatal(t *testing.T) {
	sink := newFakeSink()
	sink.err = errors.New("device gone")
	output := NewBaseOutput(Params{AudioOutEnabled: true}, sink)
	up, p := startOutputChain(t, output)

	p.QueueFrame(frames.NewOutputAudioFrame([]byte("pcm"), 24000, 1), frames.DirectionDownstream)

	waitForCount(t, up, "ErrorFrame", 1)
	up.mu.Lock()
	defer up.mu.Unlock()
	for _, f := range up.frames {
		if errorFrame, ok := f.(*frames.ErrorFrame); ok && errorFrame.Fatal {
			t.Fatalf("expected a non-fatal playback error, got %v", errorFrame.Err)
		}
	}
}

func TestOutputStartHookFailureIsFatal(t *testing.T) {
	sink := newFakeSink()
	output := NewBaseOutput(Params{AudioOutEnabled: true}, sink,
		WithOutputStartHook(func(*frames.StartFrame) error {
			return errors.New("device unavailable")
		}))
	up, _ := startOutputChain(t, output)

	waitForCount(t, up, "ErrorFrame", 1)
	up.mu.Lock()
	defer up.mu.Unlock()
	found := false
	for _, f := range up.frames {
		if errorFrame, ok := f.(*frames.ErrorFrame); ok && errorFrame.Fatal {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a fatal start-up error")
	}
}

func TestRepeatedStartFrameRunsTheOutputStartHookOnce(t *testing.T) {
	starts := 0
	sink := newFakeSink()
	output := NewBaseOutput(Params{}, sink,
		WithOutputStartHook(func(*frames.StartFrame) error {
			starts++
			return nil
		}))
	rec := newRecorder("rec")
	p, err := pipeline.New(output, rec)
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
