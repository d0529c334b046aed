package frames

import (
	"github.com/cascadevoice/cascade-core/core/audio/vad"
)

// StartFrame is the first frame delivered to every processor in a
// freshly started chain. It carries the session configuration every
// stage needs before any data arrives.
type StartFrame struct {
	SystemBase

	AudioInSampleRate  int
	AudioOutSampleRate int
	AllowInterruptions bool
}

func NewStartFrame(opts ...StartFrameOption) *StartFrame {
	f := &StartFrame{
		SystemBase:         NewSystemBase("StartFrame"),
		AudioInSampleRate:  16000,
		AudioOutSampleRate: 24000,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type StartFrameOption func(*StartFrame)

func WithAudioInSampleRate(sampleRate int) StartFrameOption {
	return func(f *StartFrame) { f.AudioInSampleRate = sampleRate }
}

func WithAudioOutSampleRate(sampleRate int) StartFrameOption {
	return func(f *StartFrame) { f.AudioOutSampleRate = sampleRate }
}

func WithAllowInterruptions(allow bool) StartFrameOption {
	return func(f *StartFrame) { f.AllowInterruptions = allow }
}

// CancelFrame aborts the chain immediately, skipping any queued data.
type CancelFrame struct{ SystemBase }

func NewCancelFrame() *CancelFrame {
	return &CancelFrame{SystemBase: NewSystemBase("CancelFrame")}
}

// StartInterruptionFrame opens an interruption window: every buffering
// stage discards held output and in-flight generation stops.
type StartInterruptionFrame struct{ SystemBase }

func NewStartInterruptionFrame() *StartInterruptionFrame {
	return &StartInterruptionFrame{SystemBase: NewSystemBase("StartInterruptionFrame")}
}

// StopInterruptionFrame closes the current interruption window.
type StopInterruptionFrame struct{ SystemBase }

func NewStopInterruptionFrame() *StopInterruptionFrame {
	return &StopInterruptionFrame{SystemBase: NewSystemBase("StopInterruptionFrame")}
}

// BotInterruptionFrame requests an interruption on behalf of the bot,
// e.g. when it needs to cut its own speech short. It travels upstream
// to the input transport, which replays it through the regular
// interruption path.
type BotInterruptionFrame struct{ SystemBase }

func NewBotInterruptionFrame() *BotInterruptionFrame {
	return &BotInterruptionFrame{SystemBase: NewSystemBase("BotInterruptionFrame")}
}

// UserStartedSpeakingFrame marks a committed quiet-to-speaking
// transition. Emulated frames replay the transition without a
// classifier edge behind it.
type UserStartedSpeakingFrame struct {
	SystemBase
	Emulated bool
}

func NewUserStartedSpeakingFrame() *UserStartedSpeakingFrame {
	return &UserStartedSpeakingFrame{SystemBase: NewSystemBase("UserStartedSpeakingFrame")}
}

// UserStoppedSpeakingFrame marks a committed speaking-to-quiet
// transition.
type UserStoppedSpeakingFrame struct {
	SystemBase
	Emulated bool
}

func NewUserStoppedSpeakingFrame() *UserStoppedSpeakingFrame {
	return &UserStoppedSpeakingFrame{SystemBase: NewSystemBase("UserStoppedSpeakingFrame")}
}

// UserEndOfTurnFrame marks an end-of-turn classifier transition.
type UserEndOfTurnFrame struct{ SystemBase }

func NewUserEndOfTurnFrame() *UserEndOfTurnFrame {
	return &UserEndOfTurnFrame{SystemBase: NewSystemBase("UserEndOfTurnFrame")}
}

// EmulateUserStartedSpeakingFrame asks the input transport to behave as
// if the user had started speaking.
type EmulateUserStartedSpeakingFrame struct{ SystemBase }

func NewEmulateUserStartedSpeakingFrame() *EmulateUserStartedSpeakingFrame {
	return &EmulateUserStartedSpeakingFrame{SystemBase: NewSystemBase("EmulateUserStartedSpeakingFrame")}
}

// EmulateUserStoppedSpeakingFrame asks the input transport to behave as
// if the user had stopped speaking.
type EmulateUserStoppedSpeakingFrame struct{ SystemBase }

func NewEmulateUserStoppedSpeakingFrame() *EmulateUserStoppedSpeakingFrame {
	return &EmulateUserStoppedSpeakingFrame{SystemBase: NewSystemBase("EmulateUserStoppedSpeakingFrame")}
}

// VADParamsUpdateFrame retunes the voice-activity analyzer mid-session.
type VADParamsUpdateFrame struct {
	SystemBase
	Params vad.Params
}

func NewVADParamsUpdateFrame(params vad.Params) *VADParamsUpdateFrame {
	return &VADParamsUpdateFrame{
		SystemBase: NewSystemBase("VADParamsUpdateFrame"),
		Params:     params,
	}
}

// FilterUpdateSettingsFrame reconfigures the input audio filter
// mid-session.
type FilterUpdateSettingsFrame struct {
	SystemBase
	Settings map[string]any
}

func NewFilterUpdateSettingsFrame(settings map[string]any) *FilterUpdateSettingsFrame {
	return &FilterUpdateSettingsFrame{
		SystemBase: NewSystemBase("FilterUpdateSettingsFrame"),
		Settings:   settings,
	}
}

// ErrorFrame reports a processing failure. Non-fatal errors leave the
// chain running; fatal ones terminate the session. Error frames travel
// upstream so the stage that owns session termination sees them.
type ErrorFrame struct {
	SystemBase
	Err   error
	Fatal bool
}

func NewErrorFrame(err error, fatal bool) *ErrorFrame {
	return &ErrorFrame{
		SystemBase: NewSystemBase("ErrorFrame"),
		Err:        err,
		Fatal:      fatal,
	}
}
