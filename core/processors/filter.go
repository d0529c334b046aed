// Package processors provides the generic processors the pipeline
// layer composes: passthrough, transform, per-branch filters and the
// output gate.
package processors

import (
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// Passthrough forwards every frame unchanged. Useful as a branch
// placeholder and in tests.
type Passthrough struct {
	*pipeline.BaseProcessor
}

func NewPassthrough() *Passthrough {
	p := &Passthrough{}
	p.BaseProcessor = pipeline.NewBaseProcessor("Passthrough", nil)
	return p
}

// FunctionFilter forwards a frame only when the predicate accepts it.
// System frames bypass the predicate entirely: a filter must never
// decide the fate of chain-wide state changes.
type FunctionFilter struct {
	*pipeline.BaseProcessor

	accept    func(frames.Frame) bool
	direction frames.Direction
}

type FunctionFilterOption func(*FunctionFilter)

// WithFilterDirection restricts filtering to one direction; frames
// moving the other way pass unchanged. Downstream by default.
func WithFilterDirection(direction frames.Direction) FunctionFilterOption {
	return func(f *FunctionFilter) { f.direction = direction }
}

func NewFunctionFilter(accept func(frames.Frame) bool, opts ...FunctionFilterOption) *FunctionFilter {
	f := &FunctionFilter{accept: accept, direction: frames.DirectionDownstream}
	f.BaseProcessor = pipeline.NewBaseProcessor("FunctionFilter", f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FunctionFilter) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if _, system := frame.(frames.System); system {
		f.PushFrame(frame, direction)
		return
	}
	if direction != f.direction || f.accept(frame) {
		f.PushFrame(frame, direction)
	}
}

// Transform replaces each data frame with zero or more derived frames.
// Returning nil consumes the frame; system and control frames are
// forwarded untouched.
type Transform struct {
	*pipeline.BaseProcessor

	apply func(frames.Frame) []frames.Frame
}

func NewTransform(apply func(frames.Frame) []frames.Frame) *Transform {
	t := &Transform{apply: apply}
	t.BaseProcessor = pipeline.NewBaseProcessor("Transform", t)
	return t
}

func (t *Transform) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if _, data := frame.(frames.Data); !data {
		t.PushFrame(frame, direction)
		return
	}
	for _, derived := range t.apply(frame) {
		t.PushFrame(derived, direction)
	}
}
