// Package tool implements the tool calling subsystem: a Registry of Go
// functions exposed to models with schemas derived from their argument
// structs, and a Dispatcher that resolves, validates and executes the tool
// calls a model requests.
//
// A tool is any function of the shape
//
//	func([ctx context.Context,] [args T]) ([R,] [error])
//
// where T is a struct (or pointer to struct) whose exported fields are the
// tool parameters, or map[string]any for free-form arguments. Field tags
// describe the parameters:
//
//	type WeatherArgs struct {
//		City string `json:"city" description:"City name"`
//		Unit string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit,default=celsius"`
//		Days int    `json:"days" default:"1" validate:"gte=1,lte=7"`
//	}
//
// Dispatching never panics and never returns an error: every failure is
// reported as a Result with Success=false so the agent loop can feed it back
// to the model as an observation.
package tool

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GCYYfun/MengLong-sub001/core"
	"github.com/GCYYfun/MengLong-sub001/internal/schema"
)

// Error codes carried by ToolError and failed Results.
const (
	CodeUnknownTool     = "UNKNOWN_TOOL"
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
)

// Call is a model's request to invoke a tool.
type Call = core.ToolCall

// Parameter describes one tool argument.
type Parameter = schema.Parameter

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = schema.ValidationError

// ToolError represents errors that occur during tool execution. Tools may
// return a *ToolError themselves to choose the code reported to the model.
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

// Result is the outcome of one dispatched tool call.
type Result struct {
	CallID   string        `json:"call_id,omitempty"`
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Value    any           `json:"value,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Content renders the result as the text of a tool message.
func (r Result) Content() string {
	if !r.Success {
		return "Error: " + r.Error
	}
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(r.Value)
	if err != nil {
		return fmt.Sprintf("%v", r.Value)
	}
	return string(b)
}

// Err returns the failure as a *ToolError, or nil for successful results.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &ToolError{Tool: r.ToolName, Message: r.Error, Code: r.Code}
}

// Message converts the result into the tool turn appended to a conversation.
func (r Result) Message() core.Message {
	return core.ToolMessage(r.CallID, r.ToolName, r.Content())
}
