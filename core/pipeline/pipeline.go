package pipeline

import (
	"fmt"

	"github.com/cascadevoice/cascade-core/core/frames"
)

// link wires processors into a shared ordered chain. Each processor
// holds the chain slice and its own position rather than neighbor
// references, so there are no reference cycles to reason about.
func link(processors []FrameProcessor) {
	for i, p := range processors {
		p.setLink(processors, i)
	}
}

// Pipeline is a linear chain of processors that itself behaves as a
// single processor, so pipelines nest. Frames entering downstream are
// delegated to the first element; frames entering upstream to the
// last. Boundary processors at both ends escape frames that leave the
// inner chain back out to the pipeline's own neighbors.
type Pipeline struct {
	*BaseProcessor

	chain []FrameProcessor
}

func New(processors ...FrameProcessor) (*Pipeline, error) {
	if len(processors) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one processor")
	}

	p := &Pipeline{}
	p.BaseProcessor = NewBaseProcessor("Pipeline", p)

	source := newBoundary("PipelineSource", p, frames.DirectionUpstream)
	sink := newBoundary("PipelineSink", p, frames.DirectionDownstream)

	p.chain = make([]FrameProcessor, 0, len(processors)+2)
	p.chain = append(p.chain, source)
	p.chain = append(p.chain, processors...)
	p.chain = append(p.chain, sink)
	link(p.chain)

	return p, nil
}

// HandleFrame delegates delivery into the inner chain.
func (p *Pipeline) HandleFrame(frame frames.Frame, direction frames.Direction) {
	switch direction {
	case frames.DirectionDownstream:
		p.chain[0].QueueFrame(frame, direction)
	case frames.DirectionUpstream:
		p.chain[len(p.chain)-1].QueueFrame(frame, direction)
	}
}

// waitShutdown extends the base behavior to the inner chain, so a
// task draining a nested pipeline waits for every inner processor too.
func (p *Pipeline) waitShutdown() {
	p.BaseProcessor.waitShutdown()
	for _, inner := range p.chain {
		inner.waitShutdown()
	}
}

// boundary sits at one end of a nested chain. Frames moving in its
// escape direction leave the inner chain and continue from the owning
// pipeline's own position in the outer chain; everything else is
// forwarded within the inner chain.
type boundary struct {
	*BaseProcessor

	owner  *Pipeline
	escape frames.Direction
}

func newBoundary(name string, owner *Pipeline, escape frames.Direction) *boundary {
	b := &boundary{owner: owner, escape: escape}
	b.BaseProcessor = NewBaseProcessor(name, b)
	return b
}

func (b *boundary) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if direction == b.escape {
		b.owner.PushFrame(frame, direction)
		return
	}
	b.PushFrame(frame, direction)
}
