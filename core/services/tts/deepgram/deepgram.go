// Package deepgram provides a streaming text-to-speech stage backed by
// Deepgram's websocket speak API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cascadevoice/cascade-core/core/audio"
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

const (
	speakHost     = "api.deepgram.com"
	speakPath     = "/v1/speak"
	maxReconnects = 3
	backoffBase   = 500 * time.Millisecond
)

type Voice string

const (
	VoiceAuraAsteria Voice = "aura-asteria-en"
	VoiceAuraOrion   Voice = "aura-orion-en"
	VoiceAuraLuna    Voice = "aura-luna-en"
)

type websocketMessage struct {
	Type string `json:"type"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	clearMsg = websocketMessage{Type: "Clear"}
	closeMsg = websocketMessage{Type: "Close"}
)

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Service synthesizes speech: it consumes TextFrames and emits
// OutputAudioFrames downstream. An interruption clears any speech
// still being generated on the remote end.
type Service struct {
	*pipeline.BaseProcessor

	apiKey   string
	voice    Voice
	encoding audio.EncodingInfo

	sampleRate int

	connMu sync.Mutex
	conn   *websocket.Conn

	// taskMu guards the start/stop handshake across dispatch goroutines.
	taskMu      sync.Mutex
	started     bool
	receiveTask *pipeline.Task
}

type ServiceOption func(*Service)

func WithAPIKey(apiKey string) ServiceOption {
	return func(s *Service) { s.apiKey = apiKey }
}

func WithVoice(voice Voice) ServiceOption {
	return func(s *Service) { s.voice = voice }
}

// WithEncoding overrides the PCM encoding requested from the speak
// endpoint.
func WithEncoding(encoding audio.EncodingInfo) ServiceOption {
	return func(s *Service) { s.encoding = encoding }
}

func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{
		voice: VoiceAuraAsteria,
		encoding: audio.EncodingInfo{
			SampleRate:  audio.DefaultOutSampleRate,
			NumChannels: 1,
			Format:      audio.FormatLinear16,
		},
	}
	s.BaseProcessor = pipeline.NewBaseProcessor("DeepgramTTS", s)
	for _, opt := range opts {
		opt(s)
	}

	if s.apiKey == "" {
		key, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		s.apiKey = key
	}

	return s, nil
}

func (s *Service) HandleFrame(frame frames.Frame, direction frames.Direction) {
	switch f := frame.(type) {
	case *frames.StartFrame:
		s.PushFrame(frame, direction)
		s.start(f)
	case *frames.CancelFrame:
		s.stop()
		s.PushFrame(frame, direction)
	case *frames.StartInterruptionFrame:
		s.clear()
		s.PushFrame(frame, direction)
	case frames.System:
		s.PushFrame(frame, direction)
	case *frames.EndFrame:
		s.PushFrame(frame, direction)
		s.stop()
	case *frames.TextFrame:
		if direction != frames.DirectionDownstream {
			s.PushFrame(frame, direction)
			return
		}
		if err := s.speak(f.Text); err != nil {
			s.PushError(err, false)
		}
		s.PushFrame(frame, direction)
	default:
		s.PushFrame(frame, direction)
	}
}

// start connects once per session; a repeated StartFrame is forwarded
// without re-dialing or respawning the receive loop.
func (s *Service) start(frame *frames.StartFrame) {
	s.taskMu.Lock()
	if s.started {
		s.taskMu.Unlock()
		return
	}
	s.started = true
	s.taskMu.Unlock()

	s.sampleRate = frame.AudioOutSampleRate
	if s.sampleRate == 0 {
		s.sampleRate = s.encoding.SampleRate
	}

	if err := s.connect(); err != nil {
		s.PushError(err, true)
		return
	}

	s.taskMu.Lock()
	s.receiveTask = s.CreateTask("deepgram-speak-receive", s.receiveLoop)
	s.taskMu.Unlock()
}

func (s *Service) stop() {
	s.taskMu.Lock()
	task := s.receiveTask
	s.receiveTask = nil
	s.taskMu.Unlock()

	if task != nil {
		s.CancelTask(task)
	}
	s.disconnect()
}

func (s *Service) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connectLocked()
}

func (s *Service) connectLocked() error {
	if s.conn != nil {
		return nil
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", s.encoding.Format.Name())
	urlValues.Set("sample_rate", strconv.Itoa(s.sampleRate))
	urlValues.Set("model", string(s.voice))
	urlValues.Set("container", "none")

	conn, _, err := websocket.DefaultDialer.Dial(
		(&url.URL{
			Scheme: "wss",
			Host:   speakHost, Path: speakPath,
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + s.apiKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	s.conn = conn
	return nil
}

func (s *Service) disconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	_ = s.conn.WriteJSON(closeMsg)
	_ = s.conn.Close()
	s.conn = nil
}

// reconnect re-dials with bounded backoff after a dropped connection.
// Exhausting the attempts is unrecoverable for this stage.
func (s *Service) reconnect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	var lastErr error
	for attempt := 0; attempt < maxReconnects; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			time.Sleep(backoffBase << (attempt - 1))
		}
		if lastErr = s.connectLocked(); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to reconnect to deepgram after %d attempts: %w", maxReconnects, lastErr)
}

func (s *Service) speak(text string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}
	if err := s.conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("failed to send text to deepgram: %w", err)
	}
	if err := s.conn.WriteJSON(flushMsg); err != nil {
		return fmt.Errorf("failed to flush deepgram buffer: %w", err)
	}
	return nil
}

// clear discards whatever the remote end is still synthesizing so
// audio generated before an interruption never reaches the output.
func (s *Service) clear() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(clearMsg); err != nil {
		s.PushError(fmt.Errorf("failed to clear deepgram buffer: %w", err), false)
	}
}

func (s *Service) current() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Service) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn := s.current()
		if conn == nil {
			return
		}

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.PushError(fmt.Errorf("deepgram read failed: %w", err), false)
			if err := s.reconnect(ctx); err != nil {
				s.PushError(err, true)
				return
			}
			continue
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.PushFrame(frames.NewOutputAudioFrame(msg, s.sampleRate, s.encoding.NumChannels), frames.DirectionDownstream)
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				continue
			}
			// Flushed and Cleared confirmations carry no payload we
			// act on.
		}
	}
}
