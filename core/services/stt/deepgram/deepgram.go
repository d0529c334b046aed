// Package deepgram provides a streaming speech-to-text stage backed by
// Deepgram's websocket listen API.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/cascadevoice/cascade-core/core/audio"
	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

const (
	listenURL          = "wss://api.deepgram.com/v1/listen"
	maxConnectAttempts = 3
	connectBackoff     = 500 * time.Millisecond
	keepAliveInterval  = 5 * time.Second
)

// Service transcribes input audio: it consumes InputAudioFrames and
// emits TranscriptionFrames (final) and InterimTranscriptionFrames
// (revisable) downstream.
type Service struct {
	*pipeline.BaseProcessor

	apiKey   string
	model    string
	language string
	encoding audio.EncodingInfo

	sampleRate int

	connMu sync.Mutex
	conn   *websocket.Conn

	// taskMu guards the start/stop handshake across dispatch goroutines.
	taskMu        sync.Mutex
	started       bool
	receiveTask   *pipeline.Task
	keepAliveTask *pipeline.Task

	accumulated string
}

type ServiceOption func(*Service)

func WithAPIKey(apiKey string) ServiceOption {
	return func(s *Service) { s.apiKey = apiKey }
}

func WithModel(model string) ServiceOption {
	return func(s *Service) { s.model = model }
}

func WithLanguage(language string) ServiceOption {
	return func(s *Service) { s.language = language }
}

// WithEncoding overrides the PCM encoding advertised to the listen
// endpoint.
func WithEncoding(encoding audio.EncodingInfo) ServiceOption {
	return func(s *Service) { s.encoding = encoding }
}

func NewService(opts ...ServiceOption) (*Service, error) {
	s := &Service{
		model:    "nova-3",
		language: "en-US",
		encoding: audio.DefaultEncodingInfo(),
	}
	s.BaseProcessor = pipeline.NewBaseProcessor("DeepgramSTT", s)
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
	case frames.System:
		s.PushFrame(frame, direction)
	case *frames.EndFrame:
		s.PushFrame(frame, direction)
		s.stop()
	case *frames.InputAudioFrame:
		if direction != frames.DirectionDownstream {
			s.PushFrame(frame, direction)
			return
		}
		if err := s.sendAudio(f.Audio); err != nil {
			s.PushError(err, false)
		}
	default:
		s.PushFrame(frame, direction)
	}
}

// start connects once per session; a repeated StartFrame is forwarded
// without re-dialing or respawning the loops.
func (s *Service) start(frame *frames.StartFrame) {
	s.taskMu.Lock()
	if s.started {
		s.taskMu.Unlock()
		return
	}
	s.started = true
	s.taskMu.Unlock()

	s.sampleRate = frame.AudioInSampleRate
	if s.sampleRate == 0 {
		s.sampleRate = s.encoding.SampleRate
	}

	if err := s.connect(); err != nil {
		// Start-up failure of a stage is chain start-up failure.
		s.PushError(err, true)
		return
	}

	s.taskMu.Lock()
	s.receiveTask = s.CreateTask("deepgram-receive", s.receiveLoop)
	s.keepAliveTask = s.CreateTask("deepgram-keepalive", s.keepAliveLoop)
	s.taskMu.Unlock()
}

func (s *Service) stop() {
	s.taskMu.Lock()
	receive := s.receiveTask
	keepAlive := s.keepAliveTask
	s.receiveTask = nil
	s.keepAliveTask = nil
	s.taskMu.Unlock()

	if receive != nil {
		s.CancelTask(receive)
	}
	if keepAlive != nil {
		s.CancelTask(keepAlive)
	}
	s.disconnect()
}

// connect dials the listen endpoint with bounded backoff. Exhausted
// attempts are the caller's problem: they mean this stage cannot
// start.
func (s *Service) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		return nil
	}

	endpoint, _ := url.Parse(listenURL)
	query := endpoint.Query()
	query.Set("encoding", s.encoding.Format.Name())
	query.Set("sample_rate", strconv.Itoa(s.sampleRate))
	query.Set("channels", strconv.Itoa(s.encoding.NumChannels))
	query.Set("model", s.model)
	query.Set("language", s.language)
	query.Set("smart_format", "true")
	query.Set("interim_results", "true")
	query.Set("endpointing", "300")
	endpoint.RawQuery = query.Encode()

	var lastErr error
	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(connectBackoff << (attempt - 1))
		}
		conn, _, err := websocket.DefaultDialer.Dial(endpoint.String(),
			http.Header{"Authorization": {"Token " + s.apiKey}})
		if err == nil {
			s.conn = conn
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to open socket connection to deepgram: %w", lastErr)
}

func (s *Service) disconnect() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	_ = s.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	_ = s.conn.Close()
	s.conn = nil
}

func (s *Service) sendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram: %w", err)
	}
	return nil
}

func (s *Service) current() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Service) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteJSON(struct {
					Type string `json:"type"`
				}{Type: "KeepAlive"})
			}
			s.connMu.Unlock()
		}
	}
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
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		s.processMessage(msg)
	}
}

func (s *Service) processMessage(msg []byte) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &header); err != nil {
		s.PushError(fmt.Errorf("malformed deepgram message: %w", err), false)
		return
	}

	if api.TypeResponse(header.Type) != api.TypeMessageResponse {
		return
	}

	var response api.MessageResponse
	if err := json.Unmarshal(msg, &response); err != nil {
		s.PushError(fmt.Errorf("malformed deepgram transcript: %w", err), false)
		return
	}
	if len(response.Channel.Alternatives) == 0 {
		return
	}

	transcript := strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
	if transcript == "" {
		return
	}

	if response.IsFinal {
		s.accumulated = strings.TrimSpace(s.accumulated + " " + transcript)
		s.PushFrame(frames.NewTranscriptionFrame(transcript, ""), frames.DirectionDownstream)
		return
	}
	s.PushFrame(
		frames.NewInterimTranscriptionFrame(strings.TrimSpace(s.accumulated+" "+transcript), ""),
		frames.DirectionDownstream,
	)
}
