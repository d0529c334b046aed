package audio

// Filter transforms raw input audio before classification, e.g. noise
// suppression or gain normalization. Filters run inside the serialized
// audio loop, one chunk at a time.
type Filter interface {
	Start(sampleRate int) error
	Stop() error
	Filter(audio []byte) ([]byte, error)
	// UpdateSettings applies a mid-session settings change.
	UpdateSettings(settings map[string]any) error
}
