package pipeline

import (
	"fmt"
	"sync"

	"github.com/cascadevoice/cascade-core/core/frames"
)

const mergeSeenLimit = 256

// ParallelPipeline runs N branches concurrently against the same
// upstream source and merges their outputs into one downstream sink.
//
// System frames are broadcast to every branch and, because system
// dispatch is synchronous, a branch has fully drained a system frame by
// the time the broadcast call returns. Duplicate copies converging at
// the merge are pushed downstream exactly once.
//
// Only intra-branch order is guaranteed. The merge emits frames in
// arrival order at the join point; when two branches have output ready
// at the same instant the merge lock is acquired in branch declaration
// order, which is the documented tie-break.
type ParallelPipeline struct {
	*BaseProcessor

	branches []*branch

	mergeMu sync.Mutex

	seenMu   sync.Mutex
	seen     map[uint64]struct{}
	seenRing []uint64
}

type branch struct {
	chain []FrameProcessor
}

func NewParallel(branches ...[]FrameProcessor) (*ParallelPipeline, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("parallel pipeline needs at least one branch")
	}

	pp := &ParallelPipeline{seen: map[uint64]struct{}{}}
	pp.BaseProcessor = NewBaseProcessor("ParallelPipeline", pp)

	for i, processors := range branches {
		if len(processors) == 0 {
			return nil, fmt.Errorf("parallel pipeline branch %d is empty", i)
		}

		source := newBranchEdge(fmt.Sprintf("ParallelSource#%d", i), pp, frames.DirectionUpstream)
		sink := newBranchEdge(fmt.Sprintf("ParallelSink#%d", i), pp, frames.DirectionDownstream)

		chain := make([]FrameProcessor, 0, len(processors)+2)
		chain = append(chain, source)
		chain = append(chain, processors...)
		chain = append(chain, sink)
		link(chain)

		pp.branches = append(pp.branches, &branch{chain: chain})
	}

	return pp, nil
}

// HandleFrame broadcasts the frame to every branch, in declaration
// order. Downstream frames enter at each branch's source, upstream
// frames at each branch's sink.
func (pp *ParallelPipeline) HandleFrame(frame frames.Frame, direction frames.Direction) {
	for _, br := range pp.branches {
		switch direction {
		case frames.DirectionDownstream:
			br.chain[0].QueueFrame(frame, direction)
		case frames.DirectionUpstream:
			br.chain[len(br.chain)-1].QueueFrame(frame, direction)
		}
	}
}

// merge pushes a frame leaving a branch out of the parallel section.
// Broadcast system frames converge here once per branch; only the
// first copy continues.
func (pp *ParallelPipeline) merge(frame frames.Frame, direction frames.Direction) {
	if _, system := frame.(frames.System); system && !pp.markSeen(frame.ID()) {
		return
	}

	pp.mergeMu.Lock()
	defer pp.mergeMu.Unlock()
	pp.PushFrame(frame, direction)
}

func (pp *ParallelPipeline) markSeen(id uint64) bool {
	pp.seenMu.Lock()
	defer pp.seenMu.Unlock()

	if _, ok := pp.seen[id]; ok {
		return false
	}
	pp.seen[id] = struct{}{}
	pp.seenRing = append(pp.seenRing, id)
	if len(pp.seenRing) > mergeSeenLimit {
		delete(pp.seen, pp.seenRing[0])
		pp.seenRing = pp.seenRing[1:]
	}
	return true
}

// waitShutdown extends the base behavior to every branch.
func (pp *ParallelPipeline) waitShutdown() {
	pp.BaseProcessor.waitShutdown()
	for _, br := range pp.branches {
		for _, p := range br.chain {
			p.waitShutdown()
		}
	}
}

// branchEdge sits at one end of a branch chain. Frames moving in its
// escape direction leave the branch through the merge; everything else
// forwards within the branch.
type branchEdge struct {
	*BaseProcessor

	owner  *ParallelPipeline
	escape frames.Direction
}

func newBranchEdge(name string, owner *ParallelPipeline, escape frames.Direction) *branchEdge {
	e := &branchEdge{owner: owner, escape: escape}
	e.BaseProcessor = NewBaseProcessor(name, e)
	return e
}

func (e *branchEdge) HandleFrame(frame frames.Frame, direction frames.Direction) {
	if direction == e.escape {
		e.owner.merge(frame, direction)
		return
	}
	e.PushFrame(frame, direction)
}
