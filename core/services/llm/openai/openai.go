// Package openai implements the llm.Streamer contract against any
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/services/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

type Streamer struct {
	apiKey  string
	baseURL string
	model   string

	client *http.Client
}

type StreamerOption func(*Streamer)

func WithAPIKey(apiKey string) StreamerOption {
	return func(s *Streamer) { s.apiKey = apiKey }
}

// WithBaseURL points the streamer at a different OpenAI-compatible
// endpoint, e.g. a Groq or local deployment.
func WithBaseURL(baseURL string) StreamerOption {
	return func(s *Streamer) { s.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithModel(model string) StreamerOption {
	return func(s *Streamer) { s.model = model }
}

func NewStreamer(opts ...StreamerOption) (*Streamer, error) {
	s := &Streamer{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.apiKey == "" {
		key, ok := os.LookupEnv("OPENAI_API_KEY")
		if !ok {
			return nil, fmt.Errorf("openai api key not found")
		}
		s.apiKey = key
	}

	return s, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Tools    []tool    `json:"tools,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

func (s *Streamer) Stream(
	ctx context.Context,
	messages []frames.Message,
	tools []llm.ToolSchema,
	emit func(llm.Chunk) error,
) error {
	reqBody := requestBody{
		Model:  s.model,
		Stream: true,
	}
	for _, msg := range messages {
		reqBody.Messages = append(reqBody.Messages, message{Role: msg.Role, Content: msg.Content})
	}
	for _, schema := range tools {
		reqBody.Tools = append(reqBody.Tools, tool{
			Type: "function",
			Function: toolFunction{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}

	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		s.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		return fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}

	// Tool call deltas arrive fragmented across chunks and are only
	// complete once the stream ends.
	type pendingToolCall struct {
		id        string
		name      string
		arguments strings.Builder
	}
	pending := map[int]*pendingToolCall{}
	order := []int{}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if len(chunk) == 0 {
			continue
		}
		if chunk == endMessage {
			break
		}

		var responseBody streamingResponseBody
		if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
			continue
		}
		if len(responseBody.Choices) == 0 {
			continue
		}
		delta := responseBody.Choices[0].Delta

		for _, call := range delta.ToolCalls {
			entry, ok := pending[call.Index]
			if !ok {
				entry = &pendingToolCall{}
				pending[call.Index] = entry
				order = append(order, call.Index)
			}
			if call.ID != "" {
				entry.id = call.ID
			}
			if call.Function.Name != "" {
				entry.name = call.Function.Name
			}
			entry.arguments.WriteString(call.Function.Arguments)
		}

		if delta.Content != "" {
			if err := emit(llm.Chunk{Text: delta.Content}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading streamed response: %w", err)
	}

	for _, index := range order {
		entry := pending[index]
		err := emit(llm.Chunk{ToolCall: &llm.ToolCall{
			ID:        entry.id,
			Name:      entry.name,
			Arguments: entry.arguments.String(),
		}})
		if err != nil {
			return err
		}
	}

	return nil
}
