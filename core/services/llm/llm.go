// Package llm provides the language-model stage: it turns message
// context into streamed text and tool invocations.
package llm

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadevoice/cascade-core/core/frames"
	"github.com/cascadevoice/cascade-core/core/pipeline"
)

// Chunk is a single unit of a streamed completion. Exactly one of
// Text and ToolCall is set.
type Chunk struct {
	Text     string
	ToolCall *ToolCall
}

// ToolCall identifies a function the model wants invoked, with its
// arguments as raw JSON.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Streamer generates a completion for the given context, emitting
// chunks as they arrive. It must honor ctx cancellation promptly: a
// cancelled generation is how interruptions stop the model mid-reply.
type Streamer interface {
	Stream(ctx context.Context, messages []frames.Message, tools []ToolSchema, emit func(Chunk) error) error
}

// Service drives a Streamer from the pipeline: LLMMessagesFrames
// trigger a generation, streamed text leaves as TextFrames, and tool
// calls are resolved against the registered tools.
type Service struct {
	*pipeline.BaseProcessor

	streamer Streamer
	tools    []Tool

	// genMu guards the task pointer: generations start on the data
	// worker while interruptions cancel them from any goroutine.
	genMu      sync.Mutex
	generation *pipeline.Task
}

type ServiceOption func(*Service)

// WithTools registers the functions the model may call.
func WithTools(tools ...Tool) ServiceOption {
	return func(s *Service) { s.tools = append(s.tools, tools...) }
}

func NewService(streamer Streamer, opts ...ServiceOption) (*Service, error) {
	if streamer == nil {
		return nil, fmt.Errorf("streamer is required")
	}

	s := &Service{streamer: streamer}
	s.BaseProcessor = pipeline.NewBaseProcessor("LLMService", s)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) HandleFrame(frame frames.Frame, direction frames.Direction) {
	switch f := frame.(type) {
	case *frames.StartInterruptionFrame:
		s.stopGeneration()
		s.PushFrame(frame, direction)
	case *frames.CancelFrame:
		s.stopGeneration()
		s.PushFrame(frame, direction)
	case frames.System:
		s.PushFrame(frame, direction)
	case *frames.EndFrame:
		s.PushFrame(frame, direction)
		s.stopGeneration()
	case *frames.LLMMessagesFrame:
		if direction != frames.DirectionDownstream {
			s.PushFrame(frame, direction)
			return
		}
		s.startGeneration(f.Messages)
	default:
		s.PushFrame(frame, direction)
	}
}

func (s *Service) startGeneration(messages []frames.Message) {
	// A new context supersedes any reply still streaming.
	s.stopGeneration()

	schemas := make([]ToolSchema, len(s.tools))
	for i, tool := range s.tools {
		schemas[i] = tool.ToolSchema
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generation = s.CreateTask("llm-generation", func(ctx context.Context) {
		ctx, span := tracer.Start(ctx, "generate llm",
			trace.WithAttributes(attribute.Int("llm.messages", len(messages))))
		defer span.End()

		err := s.streamer.Stream(ctx, messages, schemas, func(chunk Chunk) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if chunk.ToolCall != nil {
				s.handleToolCall(ctx, *chunk.ToolCall)
				return nil
			}
			if chunk.Text != "" {
				s.PushFrame(frames.NewTextFrame(chunk.Text), frames.DirectionDownstream)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			s.PushError(fmt.Errorf("generation failed: %w", err), false)
		}
	})
}

func (s *Service) stopGeneration() {
	s.genMu.Lock()
	task := s.generation
	s.generation = nil
	s.genMu.Unlock()

	if task != nil {
		s.CancelTask(task)
	}
}

func (s *Service) handleToolCall(ctx context.Context, call ToolCall) {
	s.PushFrame(
		frames.NewFunctionCallInProgressFrame(call.Name, call.ID, call.Arguments),
		frames.DirectionDownstream,
	)

	for _, tool := range s.tools {
		if tool.Name != call.Name {
			continue
		}
		logger.Debug("executing tool", "tool", call.Name, "call_id", call.ID)
		result, err := tool.Execute(ctx, call.Arguments)
		if err != nil {
			s.PushError(fmt.Errorf("failed to execute tool %q: %w", call.Name, err), false)
			return
		}
		s.PushFrame(
			frames.NewFunctionCallResultFrame(call.Name, call.ID, call.Arguments, result),
			frames.DirectionDownstream,
		)
		return
	}

	s.PushError(fmt.Errorf("tool not found: %s", call.Name), false)
}
