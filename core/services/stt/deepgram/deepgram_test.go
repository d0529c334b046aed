package deepgram

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cascadevoice/cascade-core/core/audio"
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

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

func (r *recorder) snapshot() []frames.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frames.Frame(nil), r.frames...)
}

func waitForFrame(t *testing.T, r *recorder, name string) frames.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, f := range r.snapshot() {
			if f.Name() == name {
				return f
			}
		}
		select {
		case <-deadline:
			t.Fatalf("expected a %s frame, saw none", name)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNewServiceRequiresAnAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "placeholder")
	os.Unsetenv("DEEPGRAM_API_KEY")

	if _, err := NewService(); err == nil {
		t.Fatalf("expected construction without an api key to fail")
	}
}

func TestNewServiceReadsTheKeyFromTheEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-key")

	svc, err := NewService()
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	if svc.apiKey != "env-key" {
		t.Fatalf("expected the environment key, got %q", svc.apiKey)
	}
}

func TestExplicitKeyOverridesTheEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-key")

	svc, err := NewService(WithAPIKey("explicit"))
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	if svc.apiKey != "explicit" {
		t.Fatalf("expected the explicit key to win, got %q", svc.apiKey)
	}
}

// solo starts the service's downstream recorder on its own, without
// ever starting the service itself, so transcription results can be
// asserted without a live connection.
func solo(t *testing.T) (*Service, *recorder) {
	t.Helper()
	svc, err := NewService(WithAPIKey("test"))
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	rec := newRecorder("rec")
	if _, err := pipeline.New(svc, rec); err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	rec.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	t.Cleanup(func() {
		rec.QueueFrame(frames.NewCancelFrame(), frames.DirectionDownstream)
	})
	return svc, rec
}

func TestFinalResultsBecomeTranscriptionFrames(t *testing.T) {
	svc, rec := solo(t)

	svc.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "hello there"}]}
	}`))

	frame := waitForFrame(t, rec, "TranscriptionFrame")
	if frame.(*frames.TranscriptionFrame).Text != "hello there" {
		t.Fatalf("expected the final transcript, got %q", frame.(*frames.TranscriptionFrame).Text)
	}
}

func TestInterimResultsCarryTheAccumulatedUtterance(t *testing.T) {
	svc, rec := solo(t)

	svc.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": "good"}]}
	}`))
	svc.processMessage([]byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "morning"}]}
	}`))

	frame := waitForFrame(t, rec, "InterimTranscriptionFrame")
	if frame.(*frames.InterimTranscriptionFrame).Text != "good morning" {
		t.Fatalf("expected the accumulated interim text, got %q", frame.(*frames.InterimTranscriptionFrame).Text)
	}
}

func TestEmptyTranscriptsAreIgnored(t *testing.T) {
	svc, rec := solo(t)

	svc.processMessage([]byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {"alternatives": [{"transcript": ""}]}
	}`))

	time.Sleep(50 * time.Millisecond)
	for _, f := range rec.snapshot() {
		if f.Name() == "TranscriptionFrame" {
			t.Fatalf("expected empty transcripts to produce nothing")
		}
	}
}

func TestEncodingDefaultsAndOverride(t *testing.T) {
	svc, err := NewService(WithAPIKey("test"))
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	if svc.encoding != audio.DefaultEncodingInfo() {
		t.Fatalf("expected the default encoding, got %+v", svc.encoding)
	}

	custom := audio.EncodingInfo{SampleRate: 8000, NumChannels: 1, Format: audio.FormatMulaw}
	svc, err = NewService(WithAPIKey("test"), WithEncoding(custom))
	if err != nil {
		t.Fatalf("expected construction to succeed, got %v", err)
	}
	if svc.encoding != custom {
		t.Fatalf("expected the configured encoding, got %+v", svc.encoding)
	}
}
