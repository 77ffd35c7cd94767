// Package mission runs strategies step by step: each step hires an agent
// from its department, reasons, optionally calls one tool, and records the
// outcome.
package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"realmforge/internal/domain"
	"realmforge/internal/infra/tracer"
	"realmforge/internal/usecase/billing"
	"realmforge/internal/usecase/directory"
	"realmforge/internal/usecase/resilience"
)

const userPromptFmt = "CURRENT TASK: %s\nRELEVANT CONTEXT: %s\nMISSION ID: %s\nExecute the task using your assigned tools if necessary."

// AgentSource hires agents for a department.
type AgentSource interface {
	RandomFromDepartment(ctx context.Context, dept string) (*domain.AgentInstance, error)
}

// UsageMeter charges a caller for one reasoning call.
type UsageMeter interface {
	Track(ctx context.Context, resp *domain.ChatResponse, ch billing.Charge) bool
}

// MissionRecorder is implemented by meters that also keep one ledger row per
// completed mission.
type MissionRecorder interface {
	RecordMission(ctx context.Context, state *domain.MissionState)
}

// EngineDeps holds the engine's collaborators.
type EngineDeps struct {
	Agents  AgentSource
	Tools   domain.ToolDispatcher
	LLM     domain.LLMProvider
	Memory  domain.SemanticMemory // optional
	Meter   UsageMeter            // optional, nil = unmetered
	Retrier *resilience.Retrier
	Policy  resilience.Policy
	Bus     domain.TelemetryBus // optional
	Logger  *slog.Logger

	MaxTokens   int
	Temperature float64
}

// Engine executes missions. It holds no per-mission state, so one engine
// can run many missions concurrently.
type Engine struct {
	deps EngineDeps
	llm  domain.LLMProvider
}

// NewEngine creates an engine. Reasoning calls are routed through the
// retrier unless LLM already is a resilience.Provider.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Retrier == nil {
		deps.Retrier = resilience.NewRetrier(deps.Bus, deps.Logger)
	}
	if deps.Policy.Retries == 0 {
		deps.Policy = resilience.DefaultPolicy()
	}
	llm := deps.LLM
	if _, wrapped := llm.(*resilience.Provider); !wrapped {
		llm = resilience.NewProvider(llm, deps.Retrier, deps.Policy)
	}
	return &Engine{deps: deps, llm: llm}
}

// NewMissionID returns an id of the form MSN-XXXXXXXX.
func NewMissionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "MSN-" + strings.ToUpper(hex[:8])
}

// NewMission creates a pending mission for callerKey and announces it.
func (e *Engine) NewMission(ctx context.Context, callerKey, task string, strategy domain.Strategy) *domain.MissionState {
	state := domain.NewMissionState(NewMissionID(), callerKey, strategy)
	if task != "" {
		state.Messages = append(state.Messages, domain.Message{
			Role:      domain.RoleUser,
			Content:   task,
			Timestamp: state.StartedAt,
		})
	}

	ev := domain.NewEvent(domain.EventMissionStart, fmt.Sprintf("MISSION %s INITIATED: %d steps queued.", state.ID, len(strategy.Steps)))
	ev.Agent = domain.AgentOrchestrator
	ev.MissionID = state.ID
	ev.Fields = map[string]any{"strategy": strategy.Name, "steps": len(strategy.Steps)}
	e.broadcast(ctx, ev)
	return state
}

// ExecuteFullStrategy runs every step of the mission's strategy in order.
// Soft failures inside a step are absorbed; any other failure faults the
// mission and stops the loop.
func (e *Engine) ExecuteFullStrategy(ctx context.Context, state *domain.MissionState) (*domain.MissionState, error) {
	steps := state.Strategy.Steps
	if len(steps) == 0 {
		e.deps.Logger.Warn("no steps found in mission strategy", "mission_id", state.ID)
		return state, nil
	}

	ctx, span := tracer.StartSpan(ctx, "mission.execute",
		tracer.MissionAttrs(state.ID, ""),
		trace.WithAttributes(tracer.IntAttr("mission.steps", len(steps))),
	)
	defer span.End()

	state.Status = domain.MissionRunning
	for i, step := range steps {
		e.deps.Logger.Info("executing mission step",
			"mission_id", state.ID,
			"step", i+1,
			"of", len(steps),
			"dept", step.DepartmentOrDefault(),
		)
		next, err := e.RunStep(ctx, state, step)
		if err != nil {
			tracer.RecordError(span, err)
			return e.fault(ctx, state, i+1, err)
		}
		state = next
		state.CurrentStep = i + 1
		state.Strategy.CurrentStep = i + 1
	}

	state.Status = domain.MissionComplete
	state.FinishedAt = time.Now()
	tracer.SetOK(span)
	if rec, ok := e.deps.Meter.(MissionRecorder); ok {
		rec.RecordMission(ctx, state)
	}

	ev := domain.NewEvent(domain.EventMissionComplete, fmt.Sprintf("MISSION %s COMPLETE: %d steps executed.", state.ID, len(steps)))
	ev.Agent = domain.AgentOrchestrator
	ev.MissionID = state.ID
	ev.Department = state.Vitals.ActiveDepartment
	ev.Fields = map[string]any{"steps": len(steps), "tool_results": len(state.ToolResults)}
	e.broadcast(ctx, ev)
	return state, nil
}

func (e *Engine) fault(ctx context.Context, state *domain.MissionState, step int, cause error) (*domain.MissionState, error) {
	state.Status = domain.MissionFaulted
	state.Fault = cause.Error()
	state.FinishedAt = time.Now()

	e.deps.Logger.Error("mission faulted", "mission_id", state.ID, "step", step, "error", cause)

	ev := domain.NewEvent(domain.EventMissionFault, fmt.Sprintf("MISSION %s FAULTED at step %d: %v", state.ID, step, cause))
	ev.Agent = domain.AgentOrchestrator
	ev.MissionID = state.ID
	ev.Department = state.Vitals.ActiveDepartment
	ev.Fields = map[string]any{"step": step, "error": cause.Error()}
	// The mission context may be the reason for the fault.
	e.broadcast(context.WithoutCancel(ctx), ev)

	return state, fmt.Errorf("mission %s step %d: %w: %w", state.ID, step, domain.ErrMissionFaulted, cause)
}

// RunStep executes one step against state and returns it. A department with
// no agents leaves state untouched and returns nil.
func (e *Engine) RunStep(ctx context.Context, state *domain.MissionState, step domain.Step) (*domain.MissionState, error) {
	if err := ctx.Err(); err != nil {
		return state, err
	}
	initMaps(state)

	requested := step.DepartmentOrDefault()
	action := step.ActionOrDefault()

	ctx, span := tracer.StartSpan(ctx, "mission.step",
		tracer.MissionAttrs(state.ID, requested),
		trace.WithAttributes(tracer.StringAttr("mission.action", action)),
	)
	defer span.End()

	inst, err := e.deps.Agents.RandomFromDepartment(ctx, requested)
	if err != nil {
		if domain.IsSoftStepError(err) {
			e.deps.Logger.Warn("department failed to provide an agent",
				"mission_id", state.ID, "dept", requested)
			e.diagnose(ctx, state.ID, "", requested, domain.DiagAgentUnavailable,
				fmt.Sprintf("Silo %s failed to provide an agent. Step skipped.", requested))
			return state, nil
		}
		tracer.RecordError(span, err)
		return state, fmt.Errorf("hire agent for %s: %w", requested, err)
	}

	dept := inst.Department
	ctx = domain.ContextWithInvoker(ctx, domain.Invoker{MissionID: state.ID, Agent: inst.Name, Department: dept})
	span.SetAttributes(tracer.StringAttr("agent.id", inst.ID), tracer.StringAttr("agent.name", inst.Name))
	e.deps.Logger.Info("agent deployed",
		"mission_id", state.ID, "agent", inst.Name, "role", inst.Role(), "dept", dept)

	recalled := e.recall(ctx, state.ID, inst, action, dept)
	conv := []domain.Message{
		{Role: domain.RoleSystem, Content: directory.BuildSystemPrompt(inst)},
		{Role: domain.RoleUser, Content: fmt.Sprintf(userPromptFmt, action, recalled, state.ID)},
	}
	charge := billing.Charge{CallerKey: state.CallerKey, MissionID: state.ID, AgentID: inst.ID, Department: dept}

	reply, err := e.think(ctx, conv, charge)
	if err != nil {
		tracer.RecordError(span, err)
		return state, err
	}
	content := reply.Message.Content

	directive, found, derr := ParseDirective(reply.Message)
	if derr != nil {
		e.deps.Logger.Warn("ignoring malformed tool directive",
			"mission_id", state.ID, "agent", inst.Name, "error", derr)
		e.diagnose(ctx, state.ID, inst.Name, dept, domain.DiagDirectiveMalformed,
			fmt.Sprintf("%s issued an unreadable tool directive; treating reply as final.", inst.Name))
	}

	if found {
		result, err := e.runTool(ctx, state.ID, inst, directive)
		if err != nil {
			tracer.RecordError(span, err)
			return state, err
		}
		state.ToolResults[directive.Tool] = result

		encoded, _ := json.Marshal(result)
		conv = append(conv,
			domain.Message{Role: domain.RoleAssistant, Content: assistantTurn(reply.Message, directive)},
			domain.Message{Role: domain.RoleUser, Content: "TOOL_RESULT: " + string(encoded)},
		)

		final, err := e.think(ctx, conv, charge)
		if err != nil {
			tracer.RecordError(span, err)
			return state, err
		}
		content = final.Message.Content
	}

	e.commit(ctx, domain.KnowledgeEvent{
		MissionID:  state.ID,
		AgentID:    inst.ID,
		AgentName:  inst.Name,
		Department: dept,
		Action:     action,
		Result:     content,
		CreatedAt:  time.Now(),
	})

	state.Messages = append(state.Messages, domain.Message{
		Role:      domain.RoleAssistant,
		Name:      inst.Name,
		Content:   fmt.Sprintf("[%s]: %s", inst.Name, content),
		Timestamp: time.Now(),
	})
	state.Vitals.ActiveDepartment = dept
	state.Vitals.ActiveAgent = inst.Name

	ev := domain.NewEvent(domain.EventStepProgress, fmt.Sprintf("%s (%s) completed: %s", inst.Name, inst.Role(), action))
	ev.Agent = inst.Name
	ev.Department = dept
	ev.MissionID = state.ID
	ev.Fields = map[string]any{"agent_id": inst.ID, "action": action, "tool_used": found}
	e.broadcast(ctx, ev)

	tracer.SetOK(span)
	return state, nil
}

// initMaps makes a state built outside NewMission, e.g. decoded from JSON,
// safe to write to.
func initMaps(state *domain.MissionState) {
	if state.ToolResults == nil {
		state.ToolResults = make(map[string]string)
	}
	if state.Metadata == nil {
		state.Metadata = make(map[string]string)
	}
}

// think performs one metered reasoning call over a private copy of conv.
func (e *Engine) think(ctx context.Context, conv []domain.Message, charge billing.Charge) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{
		Messages:    append([]domain.Message(nil), conv...),
		MaxTokens:   e.deps.MaxTokens,
		Temperature: e.deps.Temperature,
	}
	resp, err := e.llm.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reasoning for %s: %w", charge.Department, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("reasoning for %s: %w: empty response", charge.Department, domain.ErrReasoningTerminal)
	}
	if e.deps.Meter != nil {
		e.deps.Meter.Track(ctx, resp, charge)
	}
	return resp, nil
}

// runTool authorizes and dispatches a directive and returns the text the
// agent sees. Only cancellation is reported as an error.
func (e *Engine) runTool(ctx context.Context, missionID string, inst *domain.AgentInstance, d Directive) (string, error) {
	if !inst.Authorized(d.Tool) {
		msg := fmt.Sprintf("[SECURITY_ERROR] Agent %s is not authorized to use tool: %s", inst.Name, d.Tool)
		e.deps.Logger.Warn("unauthorized tool call blocked",
			"mission_id", missionID, "agent", inst.Name, "tool", d.Tool)
		e.diagnose(ctx, missionID, inst.Name, inst.Department, domain.DiagToolUnauthorized, msg)
		return msg, nil
	}

	e.deps.Logger.Info("agent calling tool",
		"mission_id", missionID, "agent", inst.Name, "tool", d.Tool, "args", d.Args)

	var outcome domain.DispatchOutcome
	err := e.deps.Retrier.Do(ctx, e.deps.Policy.WithContext("Arsenal:"+d.Tool), func(ctx context.Context) error {
		outcome = e.deps.Tools.Dispatch(ctx, d.Tool, d.Args)
		if outcome.Status == domain.OutcomeToolExecutionFailed {
			return outcome.Err()
		}
		return nil
	})
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return outcome.Text(), nil
}

func (e *Engine) recall(ctx context.Context, missionID string, inst *domain.AgentInstance, action, dept string) string {
	if e.deps.Memory == nil {
		return ""
	}
	text, err := e.deps.Memory.Recall(ctx, action, dept)
	if err != nil {
		e.deps.Logger.Warn("memory recall failed", "mission_id", missionID, "dept", dept, "error", err)
		e.diagnose(ctx, missionID, inst.Name, dept, domain.DiagMemoryFailure,
			fmt.Sprintf("Knowledge recall for %s degraded: %v", dept, err))
		return ""
	}
	return text
}

func (e *Engine) commit(ctx context.Context, ev domain.KnowledgeEvent) {
	if e.deps.Memory == nil {
		return
	}
	if err := e.deps.Memory.Commit(ctx, ev); err != nil {
		e.deps.Logger.Warn("memory commit failed", "mission_id", ev.MissionID, "dept", ev.Department, "error", err)
		e.diagnose(ctx, ev.MissionID, ev.AgentName, ev.Department, domain.DiagMemoryFailure,
			fmt.Sprintf("Knowledge commit for %s degraded: %v", ev.Department, err))
	}
}

func (e *Engine) diagnose(ctx context.Context, missionID, agent, dept, code, text string) {
	ev := domain.NewDiagnostic(code, text)
	ev.MissionID = missionID
	ev.Agent = agent
	if ev.Agent == "" {
		ev.Agent = domain.AgentOrchestrator
	}
	ev.Department = dept
	e.broadcast(ctx, ev)
}

func (e *Engine) broadcast(ctx context.Context, ev domain.TelemetryEvent) {
	if e.deps.Bus != nil {
		e.deps.Bus.Broadcast(ctx, ev)
	}
}

// assistantTurn is the text replayed to the engine for the reply that
// requested a tool. Structured calls may carry no text.
func assistantTurn(msg domain.Message, d Directive) string {
	if strings.TrimSpace(msg.Content) != "" {
		return msg.Content
	}
	b, _ := json.Marshal(map[string]any{"tool_name": d.Tool, "args": d.Args})
	return string(b)
}
