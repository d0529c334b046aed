package transport

import (
	"github.com/cascadevoice/cascade-core/core/audio"
	"github.com/cascadevoice/cascade-core/core/audio/turn"
	"github.com/cascadevoice/cascade-core/core/audio/vad"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// Params configures both endpoints of a transport.
type Params struct {
	AudioInEnabled  bool
	AudioOutEnabled bool

	// AudioInSampleRate overrides the StartFrame value when non-zero.
	AudioInSampleRate int
	// AudioOutSampleRate overrides the StartFrame value when non-zero.
	AudioOutSampleRate int

	VADEnabled bool
	// VADAudioPassthrough forwards classified audio downstream instead
	// of consuming it in the classification loop.
	VADAudioPassthrough bool
	VADAnalyzer         vad.Analyzer

	TurnAnalyzer turn.Analyzer

	AudioInFilter audio.Filter
}

// Transport is the frame source/sink boundary: an input endpoint
// producing raw audio/image/event frames and an output endpoint
// consuming rendered frames. Both endpoints are regular processors, so
// they slot straight into a pipeline.
type Transport interface {
	Input() pipeline.FrameProcessor
	Output() pipeline.FrameProcessor
}
