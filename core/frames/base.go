package frames

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Direction is the orientation a frame travels in: toward the
// consumer-facing output (downstream) or toward the producer-facing
// input (upstream).
type Direction int

const (
	DirectionDownstream Direction = iota
	DirectionUpstream
)

func (d Direction) String() string {
	switch d {
	case DirectionDownstream:
		return "downstream"
	case DirectionUpstream:
		return "upstream"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Frame is the unit of data flowing through a pipeline.
type Frame interface {
	ID() uint64
	UUID() string
	Name() string
}

// System frames take the expedited path through every processor: they
// are never queued behind data frames, never buffered and never
// filtered.
type System interface {
	Frame
	systemFrame()
}

// Control frames are ordered lifecycle markers that travel through the
// regular per-processor queues.
type Control interface {
	Frame
	controlFrame()
}

// Data frames carry payloads (audio, text, images, transcriptions,
// function calls).
type Data interface {
	Frame
	dataFrame()
}

var frameID atomic.Uint64

// Base carries the bookkeeping shared by every frame: a process-wide
// monotonic id reflecting creation order and a uuid for correlation
// across process boundaries.
type Base struct {
	id   uint64
	uuid string
	name string
}

func NewBase(name string) Base {
	return Base{
		id:   frameID.Add(1),
		uuid: uuid.NewString(),
		name: name,
	}
}

func (b Base) ID() uint64   { return b.id }
func (b Base) UUID() string { return b.uuid }
func (b Base) Name() string { return b.name }

func (b Base) String() string {
	return fmt.Sprintf("%s#%d", b.name, b.id)
}

// SystemBase marks a frame as a system frame. Embed it to get the
// expedited-dispatch behavior.
type SystemBase struct{ Base }

func (SystemBase) systemFrame() {}

func NewSystemBase(name string) SystemBase {
	return SystemBase{Base: NewBase(name)}
}

// ControlBase marks a frame as an ordered lifecycle marker.
type ControlBase struct{ Base }

func (ControlBase) controlFrame() {}

func NewControlBase(name string) ControlBase {
	return ControlBase{Base: NewBase(name)}
}

// DataBase marks a frame as a payload carrier.
type DataBase struct{ Base }

func (DataBase) dataFrame() {}

func NewDataBase(name string) DataBase {
	return DataBase{Base: NewBase(name)}
}
