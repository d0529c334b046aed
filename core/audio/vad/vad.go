package vad

// State is the voice-activity state reported by an analyzer.
//
// StateStarting and StateStopping are transitional: speech has to hold
// for the configured padding before the analyzer commits to
// StateSpeaking or StateQuiet. Only committed states are externally
// visible as speaking transitions.
type State int

const (
	StateQuiet State = iota
	StateStarting
	StateSpeaking
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateQuiet:
		return "quiet"
	case StateStarting:
		return "starting"
	case StateSpeaking:
		return "speaking"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Params tune an analyzer's commitment thresholds.
type Params struct {
	// Confidence is the minimum score treated as speech.
	Confidence float64
	// StartSecs is how long speech must hold before committing to
	// StateSpeaking.
	StartSecs float64
	// StopSecs is how long silence must hold before committing back to
	// StateQuiet.
	StopSecs float64
	// MinVolume is the minimum normalized volume treated as speech.
	MinVolume float64
}

func DefaultParams() Params {
	return Params{
		Confidence: 0.7,
		StartSecs:  0.2,
		StopSecs:   0.8,
		MinVolume:  0.6,
	}
}

// Analyzer classifies raw audio chunks into voice-activity states.
//
// Analyze may block the calling goroutine; callers are expected to
// invoke it from a serialized worker so results reflect real temporal
// order. A failed analysis returns the previous state alongside the
// error.
type Analyzer interface {
	SetSampleRate(sampleRate int)
	SetParams(params Params)
	Params() Params
	Analyze(audio []byte) (State, error)
}
