package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultRequestTimeout = 60 * time.Second

// RemoteAnalyzer asks a remote turn-classification endpoint whether the
// accumulated utterance audio forms a complete turn. Audio is collected
// while speech is active and posted as a raw octet-stream body once
// speech stops.
type RemoteAnalyzer struct {
	mu sync.Mutex

	url    string
	client *http.Client

	sampleRate  int
	chunkSizeMS int

	buffer    []byte
	wasSpeech bool
}

type RemoteAnalyzerOption func(*RemoteAnalyzer)

func WithHTTPClient(client *http.Client) RemoteAnalyzerOption {
	return func(a *RemoteAnalyzer) { a.client = client }
}

func NewRemoteAnalyzer(url string, opts ...RemoteAnalyzerOption) (*RemoteAnalyzer, error) {
	if url == "" {
		url = os.Getenv("REMOTE_TURN_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("remote turn analyzer url not provided")
	}

	a := &RemoteAnalyzer{
		url: url,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultRequestTimeout,
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func (a *RemoteAnalyzer) SetSampleRate(sampleRate int) {
	a.mu.Lock()
	a.sampleRate = sampleRate
	a.mu.Unlock()
}

func (a *RemoteAnalyzer) SetChunkSizeMS(ms int) {
	a.mu.Lock()
	a.chunkSizeMS = ms
	a.mu.Unlock()
}

func (a *RemoteAnalyzer) Analyze(audio []byte, isSpeech bool) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isSpeech {
		a.buffer = append(a.buffer, audio...)
		a.wasSpeech = true
		return StateIncomplete, nil
	}

	if !a.wasSpeech || len(a.buffer) == 0 {
		return StateIncomplete, nil
	}

	utterance := a.buffer
	a.buffer = nil
	a.wasSpeech = false

	state, err := a.predict(utterance)
	if err != nil {
		return StateIncomplete, fmt.Errorf("remote turn prediction failed: %w", err)
	}
	return state, nil
}

func (a *RemoteAnalyzer) predict(utterance []byte) (State, error) {
	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, a.url, bytes.NewReader(utterance),
	)
	if err != nil {
		return StateIncomplete, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return StateIncomplete, fmt.Errorf("failed to reach turn endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StateIncomplete, fmt.Errorf("turn endpoint returned status %d", resp.StatusCode)
	}

	var prediction struct {
		Prediction int `json:"prediction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return StateIncomplete, fmt.Errorf("failed to decode turn prediction: %w", err)
	}

	if prediction.Prediction == 1 {
		return StateComplete, nil
	}
	return StateIncomplete, nil
}
