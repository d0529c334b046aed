package frames

import "time"

// AudioFrame carries raw PCM audio.
type AudioFrame struct {
	DataBase

	Audio       []byte
	SampleRate  int
	NumChannels int
}

// InputAudioFrame is audio captured from the user side of a transport.
type InputAudioFrame struct{ AudioFrame }

func NewInputAudioFrame(audio []byte, sampleRate, numChannels int) *InputAudioFrame {
	return &InputAudioFrame{AudioFrame: AudioFrame{
		DataBase:    NewDataBase("InputAudioFrame"),
		Audio:       audio,
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}}
}

// OutputAudioFrame is synthesized audio headed for playback.
type OutputAudioFrame struct{ AudioFrame }

func NewOutputAudioFrame(audio []byte, sampleRate, numChannels int) *OutputAudioFrame {
	return &OutputAudioFrame{AudioFrame: AudioFrame{
		DataBase:    NewDataBase("OutputAudioFrame"),
		Audio:       audio,
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}}
}

// TextFrame carries a text chunk, typically a streamed LLM response
// segment.
type TextFrame struct {
	DataBase
	Text string
}

func NewTextFrame(text string) *TextFrame {
	return &TextFrame{DataBase: NewDataBase("TextFrame"), Text: text}
}

// TranscriptionFrame is a finalized transcription of user speech.
type TranscriptionFrame struct {
	DataBase

	Text      string
	UserID    string
	Timestamp time.Time
}

func NewTranscriptionFrame(text, userID string) *TranscriptionFrame {
	return &TranscriptionFrame{
		DataBase:  NewDataBase("TranscriptionFrame"),
		Text:      text,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// InterimTranscriptionFrame is a mutable point-in-time transcription
// snapshot that later frames may revise.
type InterimTranscriptionFrame struct {
	DataBase

	Text      string
	UserID    string
	Timestamp time.Time
}

func NewInterimTranscriptionFrame(text, userID string) *InterimTranscriptionFrame {
	return &InterimTranscriptionFrame{
		DataBase:  NewDataBase("InterimTranscriptionFrame"),
		Text:      text,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ImageFrame carries an encoded image.
type ImageFrame struct {
	DataBase

	Image  []byte
	Format string
}

func NewImageFrame(image []byte, format string) *ImageFrame {
	return &ImageFrame{DataBase: NewDataBase("ImageFrame"), Image: image, Format: format}
}

// Message is one conversational turn in an LLM prompt.
type Message struct {
	Role    string
	Content string
}

// LLMMessagesFrame asks an LLM stage to run inference over the carried
// prompt.
type LLMMessagesFrame struct {
	DataBase
	Messages []Message
}

func NewLLMMessagesFrame(messages []Message) *LLMMessagesFrame {
	return &LLMMessagesFrame{DataBase: NewDataBase("LLMMessagesFrame"), Messages: messages}
}

// FunctionCallInProgressFrame marks a named function call the LLM stage
// has dispatched but not yet resolved. Gates must never hold these
// back.
type FunctionCallInProgressFrame struct {
	DataBase

	FunctionName string
	ToolCallID   string
	Arguments    string
}

func NewFunctionCallInProgressFrame(functionName, toolCallID, arguments string) *FunctionCallInProgressFrame {
	return &FunctionCallInProgressFrame{
		DataBase:     NewDataBase("FunctionCallInProgressFrame"),
		FunctionName: functionName,
		ToolCallID:   toolCallID,
		Arguments:    arguments,
	}
}

// FunctionCallResultFrame carries a resolved function call's result
// back to the LLM stage.
type FunctionCallResultFrame struct {
	DataBase

	FunctionName string
	ToolCallID   string
	Arguments    string
	Result       any
}

func NewFunctionCallResultFrame(functionName, toolCallID, arguments string, result any) *FunctionCallResultFrame {
	return &FunctionCallResultFrame{
		DataBase:     NewDataBase("FunctionCallResultFrame"),
		FunctionName: functionName,
		ToolCallID:   toolCallID,
		Arguments:    arguments,
		Result:       result,
	}
}
