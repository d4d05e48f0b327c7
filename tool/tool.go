// Package tool implements the function calling subsystem that lets the agent
// invoke structured capabilities (SQL execution, schema introspection, chart
// generation) with schema validated arguments, consistent error handling and
// descriptions rich enough for the model to pick the right tool unaided.
package tool

import (
	"context"
	"fmt"

	"github.com/melivision/melivision/internal/util"
	"github.com/melivision/melivision/model"
)

// Tool defines the interface for capabilities exposed to the model.
//
// Tool contracts are textual: arguments arrive as a JSON-decoded map, the
// result is an observation string fed back into the conversation. Tools that
// produce rich artifacts (charts) park them out-of-band and still return text.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case) and example-bearing descriptions
//   - Define a proper JSON schema for parameters
//   - Contain their own faults; an error return is surfaced to the model as text
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is the only channel through which the model learns the tool's semantics.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with already JSON-decoded arguments and returns
	// the textual observation for the model.
	Call(ctx context.Context, args map[string]any) (string, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Catalogue is the ordered set of tools offered to the model in one session.
// Order is preserved so tool listings shown to the model are deterministic.
// Names are unique; Register rejects duplicates.
type Catalogue struct {
	order []string
	tools map[string]Tool
}

// NewCatalogue builds a catalogue from the given tools, in order.
// It panics on duplicate names; use Register for error handling.
func NewCatalogue(tools ...Tool) *Catalogue {
	c := &Catalogue{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

// Register adds a tool, rejecting duplicate names.
func (c *Catalogue) Register(t Tool) error {
	if _, exists := c.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	c.order = append(c.order, t.Name())
	c.tools[t.Name()] = t
	return nil
}

// Get returns the named tool and whether it exists.
func (c *Catalogue) Get(name string) (Tool, bool) {
	t, ok := c.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (c *Catalogue) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Len returns the number of registered tools.
func (c *Catalogue) Len() int { return len(c.order) }

// Definitions converts the catalogue into model tool declarations,
// preserving registration order.
func (c *Catalogue) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		t := c.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
