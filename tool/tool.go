// Package tool implements the capability (function calling) subsystem: named
// operations with a JSON schema that a model may invoke during a scoped
// invocation. Arguments are validated against the schema and failures are
// normalized into *ToolError so they can be fed back to the model.
package tool

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lang2file/core"
	"github.com/hupe1980/lang2file/internal/util"
)

// Tool defines a capability a model can invoke.
//
// Capabilities receive a *core.ToolContext carrying cancellation, correlation
// ids and a logger. They get no handle on the registry or on other
// capabilities, which keeps the registry the single source of truth for what
// exists and the invocation the single source of truth for what is allowed.
//
// Implementations must be safe for concurrent use: the same instance serves
// every request.
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with structured arguments decoded from the
	// model's function call.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes carried by ToolError.
const (
	// CodeValidation marks arguments that do not match the declared schema.
	CodeValidation = "VALIDATION_ERROR"
	// CodeExecution marks a failure inside the capability itself.
	CodeExecution = "EXECUTION_ERROR"
	// CodeNotAvailable marks a call to a capability outside the invocation scope.
	CodeNotAvailable = "NOT_AVAILABLE"
	// CodeInvalidArguments marks a function call whose argument payload is not a JSON object.
	CodeInvalidArguments = "INVALID_ARGUMENTS"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Cause   error  `json:"-"`                 // Underlying error, if any
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// IsToolError reports whether err is a *ToolError carrying the given code.
func IsToolError(err error, code string) bool {
	var te *ToolError
	if !errors.As(err, &te) {
		return false
	}
	return code == "" || te.Code == code
}
