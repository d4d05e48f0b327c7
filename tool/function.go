package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/melivision/melivision/internal/util"
	"github.com/melivision/melivision/logging"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Validates model supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     VALIDATION_ERROR  -> schema / argument mismatch
//     EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use; state lives in whatever the wrapped function closes over.
type FunctionTool struct {
	// Tool identifier (snake_case recommended)
	name string
	// Human-readable description shown to models
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// User supplied implementation
	fn func(ctx context.Context, args map[string]any) (string, error)

	logger logging.Logger
}

// FunctionToolOption customizes a FunctionTool.
type FunctionToolOption func(*FunctionTool)

// WithLogger attaches a logger used for per-call diagnostics.
func WithLogger(logger logging.Logger) FunctionToolOption {
	return func(t *FunctionTool) { t.logger = logger }
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	countTool := NewFunctionTool(
//	  "execute_sql",
//	  "Execute a read-only SQL query. Example: {\"query\": \"SELECT COUNT(*) FROM produtos\"}",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "query": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"query"},
//	  },
//	  func(ctx context.Context, args map[string]any) (string, error) {
//	    return runQuery(ctx, args["query"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (string, error),
	optFns ...FunctionToolOption,
) *FunctionTool {
	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(t)
	}
	return t
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection, producing a schema equivalent to util.CreateSchema(structType).
//
// Example:
//
//	type QueryArgs struct {
//	  Query string `json:"query" description:"The SQL SELECT statement to run"`
//	}
//
//	sqlTool := NewFunctionToolFromStruct("execute_sql", "Run a SQL query", QueryArgs{}, runFn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (string, error),
	optFns ...FunctionToolOption,
) *FunctionTool {
	schema := util.CreateSchema(structType)
	return NewFunctionTool(name, description, schema, fn, optFns...)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()

	t.logger.Debug("tool.call.start", "tool", t.name)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		t.logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return "", &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok { // Already a ToolError -> just log and forward
			t.logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return "", toolErr
		}

		t.logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return "", &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	t.logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
