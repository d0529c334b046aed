package turn

// State is the end-of-turn estimate for the current utterance.
type State int

const (
	StateIncomplete State = iota
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIncomplete:
		return "incomplete"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Analyzer estimates whether the speaker has finished a conversational
// turn. Analyze may block the calling goroutine and must be invoked
// from the same serialized worker as voice-activity analysis so both
// classifiers observe audio in real temporal order.
type Analyzer interface {
	SetSampleRate(sampleRate int)
	SetChunkSizeMS(ms int)
	Analyze(audio []byte, isSpeech bool) (State, error)
}
