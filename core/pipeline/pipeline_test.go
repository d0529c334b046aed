package pipeline

import (
	"testing"

	"github.com/cascadevoice/cascade-core/core/frames"
)

func TestNewRequiresAtLeastOneProcessor(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatalf("expected an error for an empty pipeline")
	}
}

func TestFramesTraverseProcessorsInOrder(t *testing.T) {
	a := newRecorder("a")
	b := newRecorder("b")
	c := newRecorder("c")
	p, err := New(a, b, c)
	if err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	defer drain(p)

	p.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	p.QueueFrame(frames.NewTextFrame("hello"), frames.DirectionDownstream)

	for _, rec := range []*recorder{a, b, c} {
		rec.waitFor(t, "TextFrame")
	}
}

func TestUpstreamFramesEnterAtTheSinkEnd(t *testing.T) {
	a := newRecorder("a")
	b := newRecorder("b")
	p, err := New(a, b)
	if err != nil {
		t.Fatalf("expected pipeline construction to succeed, got %v", err)
	}
	defer drain(p)

	p.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	p.QueueFrame(frames.NewUserStartedSpeakingFrame(), frames.DirectionUpstream)

	b.waitFor(t, "UserStartedSpeakingFrame")
	a.waitFor(t, "UserStartedSpeakingFrame")

	for _, r := range b.snapshot() {
		if r.frame.Name() == "UserStartedSpeakingFrame" && r.direction != frames.DirectionUpstream {
			t.Fatalf("expected the frame to keep its upstream direction, got %v", r.direction)
		}
	}
}

func TestNestedPipelineEscapesFramesToOuterChain(t *testing.T) {
	inner := newRecorder("inner")
	nested, err := New(inner)
	if err != nil {
		t.Fatalf("expected nested pipeline construction to succeed, got %v", err)
	}
	after := newRecorder("after")
	chain := []FrameProcessor{nested, after}
	link(chain)
	defer drain(chain...)

	nested.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	nested.QueueFrame(frames.NewTextFrame("through"), frames.DirectionDownstream)

	inner.waitFor(t, "TextFrame")
	after.waitFor(t, "TextFrame")
}

func TestNestedPipelineEscapesUpstreamFrames(t *testing.T) {
	before := newRecorder("before")
	inner := newRecorder("inner")
	nested, err := New(inner)
	if err != nil {
		t.Fatalf("expected nested pipeline construction to succeed, got %v", err)
	}
	chain := []FrameProcessor{before, nested}
	link(chain)
	defer drain(chain...)

	before.QueueFrame(frames.NewStartFrame(), frames.DirectionDownstream)
	nested.QueueFrame(frames.NewUserStoppedSpeakingFrame(), frames.DirectionUpstream)

	inner.waitFor(t, "UserStoppedSpeakingFrame")
	before.waitFor(t, "UserStoppedSpeakingFrame")
}
