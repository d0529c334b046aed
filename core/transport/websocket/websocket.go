// Package websocket provides a websocket-backed transport: binary
// messages carry raw PCM audio, text messages carry JSON app messages.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
	"github.com/cascadevoice/cascade-core/core/transport"
)

const (
	readInterval  = 2 * time.Second
	stallTimeout  = 30 * time.Second
	maxReconnects = 3
	backoffBase   = 500 * time.Millisecond
)

// Transport connects both pipeline endpoints to a remote websocket
// peer. The receive loop feeds captured audio into the input endpoint;
// the output endpoint writes synthesized audio back as binary
// messages.
type Transport struct {
	url    string
	params transport.Params

	input  *transport.BaseInput
	output *transport.BaseOutput
	events *transport.EventRegistry

	// connMu guards connect/reconnect sequences so two goroutines can
	// never race a duplicate connection attempt.
	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// taskMu guards the start/stop handshake across dispatch goroutines.
	taskMu      sync.Mutex
	receiveTask *pipeline.Task
}

func New(url string, params transport.Params) (*Transport, error) {
	if url == "" {
		return nil, fmt.Errorf("websocket transport needs a url")
	}

	t := &Transport{
		url:    url,
		params: params,
		events: transport.NewEventRegistry(),
	}
	t.input = transport.NewBaseInput(params,
		transport.WithInputStartHook(t.start),
		transport.WithInputStopHook(t.stop),
	)
	t.output = transport.NewBaseOutput(params, t)

	return t, nil
}

func (t *Transport) Input() pipeline.FrameProcessor  { return t.input }
func (t *Transport) Output() pipeline.FrameProcessor { return t.output }

// AddListener registers a connection-lifecycle listener. Listeners run
// synchronously in registration order.
func (t *Transport) AddListener(event transport.Event, listener func(payload any)) {
	t.events.AddListener(event, listener)
}

func (t *Transport) start(*frames.StartFrame) error {
	if err := t.connect(); err != nil {
		return err
	}
	t.taskMu.Lock()
	t.receiveTask = t.input.CreateTask("websocket-receive", t.receiveLoop)
	t.taskMu.Unlock()
	return nil
}

func (t *Transport) stop() {
	t.taskMu.Lock()
	task := t.receiveTask
	t.receiveTask = nil
	t.taskMu.Unlock()

	if task != nil {
		t.input.CancelTask(task)
	}
	t.disconnect()
}

func (t *Transport) connect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", t.url, err)
	}
	t.conn = conn
	t.events.Emit(transport.EventClientConnected, nil)
	return nil
}

func (t *Transport) disconnect() {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return
	}
	_ = t.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	_ = t.conn.Close()
	t.conn = nil
	t.events.Emit(transport.EventClientDisconnected, nil)
}

// reconnect re-establishes a dropped connection with bounded backoff.
// Exhausted retries are fatal: the session cannot continue without its
// peer.
func (t *Transport) reconnect(ctx context.Context) error {
	t.disconnect()

	var err error
	for attempt := 0; attempt < maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffBase << attempt):
		}
		if err = t.connect(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("reconnect attempts exhausted: %w", err)
}

func (t *Transport) current() *websocket.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

// receiveLoop reads with a bounded per-iteration deadline so the stall
// watchdog stays live: a peer that goes silent past stallTimeout is a
// dead session, not a quiet one.
func (t *Transport) receiveLoop(ctx context.Context) {
	lastData := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		conn := t.current()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(readInterval))
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if time.Since(lastData) > stallTimeout {
					t.input.PushError(fmt.Errorf("websocket stalled for %s", time.Since(lastData)), true)
					return
				}
				continue
			}
			if ctx.Err() != nil {
				return
			}

			t.input.PushError(fmt.Errorf("websocket read failed: %w", err), false)
			if rerr := t.reconnect(ctx); rerr != nil {
				if ctx.Err() == nil {
					t.input.PushError(rerr, true)
				}
				return
			}
			continue
		}

		lastData = time.Now()
		switch messageType {
		case websocket.BinaryMessage:
			t.events.Emit(transport.EventDataReceived, payload)
			t.input.PushAudioFrame(frames.NewInputAudioFrame(payload, t.input.SampleRate(), 1))
		case websocket.TextMessage:
			var message map[string]any
			if err := json.Unmarshal(payload, &message); err != nil {
				t.input.PushError(fmt.Errorf("malformed app message: %w", err), false)
				continue
			}
			t.events.Emit(transport.EventAppMessage, message)
		}
	}
}

// WriteAudio implements transport.AudioSink.
func (t *Transport) WriteAudio(audio []byte, _, _ int) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// SendAppMessage sends a JSON text message to the peer.
func (t *Transport) SendAppMessage(message any) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode app message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}
