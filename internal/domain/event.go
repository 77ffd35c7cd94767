package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of telemetry event being broadcast.
type EventType string

const (
	EventDiagnostic      EventType = "diagnostic"
	EventMissionStart    EventType = "mission_start"
	EventStepProgress    EventType = "step_progress"
	EventToolInvocation  EventType = "tool_invocation"
	EventRepair          EventType = "repair"
	EventTerminalFault   EventType = "terminal_fault"
	EventMissionComplete EventType = "mission_complete"
	EventMissionFault    EventType = "mission_fault"
)

// System agent labels used as the Agent of events not raised by a specialist.
const (
	AgentSystemKernel = "SYSTEM_KERNEL"
	AgentOrchestrator = "ORCHESTRATOR"
)

// TelemetryEvent is the envelope delivered to observers. It exists only for
// the duration of a broadcast.
type TelemetryEvent struct {
	Type       EventType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Department string         `json:"dept,omitempty"`
	MissionID  string         `json:"mission_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewEvent returns an event stamped with the current time.
func NewEvent(typ EventType, text string) TelemetryEvent {
	return TelemetryEvent{Type: typ, Text: text, Timestamp: time.Now()}
}

// Observer receives broadcast events. Returning an error detaches it.
type Observer interface {
	ID() string
	Notify(ctx context.Context, ev TelemetryEvent) error
}

// TelemetryBus fans events out to attached observers.
type TelemetryBus interface {
	Attach(o Observer) (detach func())
	Detach(o Observer)
	Broadcast(ctx context.Context, ev TelemetryEvent)
}

// Diagnostic codes carried in Fields["code"] of absorbed-failure events.
const (
	DiagAgentUnavailable      = "agent_unavailable"
	DiagDirectiveMalformed    = "directive_malformed"
	DiagToolUnauthorized      = "tool_unauthorized"
	DiagLedgerDeductionFailed = "ledger_deduction_failed"
	DiagManifestMalformed     = "manifest_malformed"
	DiagMemoryFailure         = "memory_failure"
)

// NewDiagnostic returns a diagnostic event tagged with code.
func NewDiagnostic(code, text string) TelemetryEvent {
	ev := NewEvent(EventDiagnostic, text)
	ev.Fields = map[string]any{"code": code}
	return ev
}
