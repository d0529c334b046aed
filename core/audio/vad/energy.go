package vad

import (
	"encoding/binary"
	"math"
	"sync"
)

// EnergyAnalyzer is a dependency-free analyzer that treats normalized
// RMS volume above Params.MinVolume as speech. It expects 16-bit
// little-endian mono PCM.
//
// It is deliberately simple: the serialized classification loop and the
// speaking-transition machinery are exercised the same way regardless
// of how sophisticated the underlying classifier is.
type EnergyAnalyzer struct {
	mu sync.Mutex

	sampleRate int
	params     Params

	state       State
	speechSecs  float64
	silenceSecs float64
}

func NewEnergyAnalyzer(opts ...EnergyAnalyzerOption) *EnergyAnalyzer {
	a := &EnergyAnalyzer{
		params: DefaultParams(),
		state:  StateQuiet,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type EnergyAnalyzerOption func(*EnergyAnalyzer)

func WithParams(params Params) EnergyAnalyzerOption {
	return func(a *EnergyAnalyzer) { a.params = params }
}

func (a *EnergyAnalyzer) SetSampleRate(sampleRate int) {
	a.mu.Lock()
	a.sampleRate = sampleRate
	a.mu.Unlock()
}

func (a *EnergyAnalyzer) SetParams(params Params) {
	a.mu.Lock()
	a.params = params
	a.mu.Unlock()
}

func (a *EnergyAnalyzer) Params() Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

func (a *EnergyAnalyzer) Analyze(audio []byte) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sampleRate == 0 || len(audio) < 2 {
		return a.state, nil
	}

	chunkSecs := float64(len(audio)/2) / float64(a.sampleRate)
	speech := volume(audio) >= a.params.MinVolume

	switch a.state {
	case StateQuiet:
		if speech {
			a.state = StateStarting
			a.speechSecs = chunkSecs
		}
	case StateStarting:
		if speech {
			a.speechSecs += chunkSecs
			if a.speechSecs >= a.params.StartSecs {
				a.state = StateSpeaking
			}
		} else {
			a.state = StateQuiet
		}
	case StateSpeaking:
		if !speech {
			a.state = StateStopping
			a.silenceSecs = chunkSecs
		}
	case StateStopping:
		if speech {
			a.state = StateSpeaking
		} else {
			a.silenceSecs += chunkSecs
			if a.silenceSecs >= a.params.StopSecs {
				a.state = StateQuiet
			}
		}
	}

	return a.state, nil
}

// volume returns the normalized RMS of 16-bit little-endian mono PCM.
func volume(audio []byte) float64 {
	var sum float64
	samples := len(audio) / 2
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(audio[i*2:]))
		sum += float64(s) * float64(s)
	}
	if samples == 0 {
		return 0
	}
	return math.Sqrt(sum/float64(samples)) / math.MaxInt16
}
