package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolSchema is the model-facing description of a callable function.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Tool pairs a schema with the function that fulfills it.
type Tool struct {
	ToolSchema

	execute func(ctx context.Context, arguments string) (any, error)
}

// NewTool builds a tool whose parameter schema is reflected from the
// handler's argument type. Field names and constraints come from the
// usual json and jsonschema struct tags.
func NewTool[T any](name, description string, handler func(ctx context.Context, parameters T) (any, error)) Tool {
	reflector := jsonschema.Reflector{DoNotReference: true}
	var params T
	schema := reflector.Reflect(&params)

	return Tool{
		ToolSchema: ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		execute: func(ctx context.Context, arguments string) (any, error) {
			var parameters T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &parameters); err != nil {
					return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
				}
			}
			return handler(ctx, parameters)
		},
	}
}

// Execute runs the tool against raw JSON arguments.
func (t Tool) Execute(ctx context.Context, arguments string) (any, error) {
	if t.execute == nil {
		return nil, fmt.Errorf("tool %q has no handler", t.Name)
	}
	return t.execute(ctx, arguments)
}
