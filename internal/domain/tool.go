package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultToolCategory is assigned to descriptors registered without a category.
const DefaultToolCategory = "Uncategorized"

// ToolFunc is the callable handle of a capability. Long-running tools must
// honour ctx cancellation.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDescriptor is a dispatchable capability. Descriptors are immutable once
// registered.
type ToolDescriptor struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Parameters  []string `json:"args"`
	Invoke      ToolFunc `json:"-"`
}

// ToolCall represents a reasoning engine's request to invoke a tool, either
// from a structured tool-call field or a directive found in free text.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// OutcomeStatus classifies a dispatch.
type OutcomeStatus string

const (
	OutcomeOK                  OutcomeStatus = "ok"
	OutcomeToolNotFound        OutcomeStatus = "tool_not_found"
	OutcomeToolExecutionFailed OutcomeStatus = "tool_execution_failed"
)

// DispatchOutcome is the typed result of a registry dispatch. Failures are
// data, never panics or Go errors.
type DispatchOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Tool    string        `json:"tool"`
	Result  string        `json:"result,omitempty"`
	Message string        `json:"message,omitempty"`
}

// OK reports whether the tool ran successfully.
func (o DispatchOutcome) OK() bool { return o.Status == OutcomeOK }

// Err maps a failed outcome onto the domain sentinels so that callers can
// feed dispatch through retry middleware.
func (o DispatchOutcome) Err() error {
	switch o.Status {
	case OutcomeOK:
		return nil
	case OutcomeToolNotFound:
		return NewSubSystemError("registry", "Registry.Dispatch", ErrToolNotFound, o.Tool)
	default:
		return NewSubSystemError("registry", "Registry.Dispatch", ErrToolFailure, o.Tool+": "+o.Message)
	}
}

// Text renders the outcome as the string an agent sees in its tool-result turn.
func (o DispatchOutcome) Text() string {
	switch o.Status {
	case OutcomeOK:
		return o.Result
	case OutcomeToolNotFound:
		return fmt.Sprintf("[ERROR] Tool '%s' not found.", o.Tool)
	default:
		return fmt.Sprintf("[ERROR] Arsenal tool '%s' failed: %s", o.Tool, o.Message)
	}
}

// ToolDispatcher is the capability registry seen from the mission loop.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) DispatchOutcome
	Names() []string
}
