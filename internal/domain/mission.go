package domain

import "time"

// MissionStatus is the lifecycle state of a mission.
type MissionStatus string

const (
	MissionPending  MissionStatus = "PENDING"
	MissionRunning  MissionStatus = "RUNNING"
	MissionComplete MissionStatus = "COMPLETE"
	MissionFaulted  MissionStatus = "FAULTED"
)

// DefaultAction is the placeholder used for steps without an action.
const DefaultAction = "General Analysis"

// Step is one unit of work bound to a department.
type Step struct {
	Department string `json:"department,omitempty" yaml:"department,omitempty"`
	Silo       string `json:"silo,omitempty"       yaml:"silo,omitempty"` // legacy alias of Department
	Action     string `json:"action,omitempty"     yaml:"action,omitempty"`
}

// DepartmentOrDefault returns the raw department label, falling back to the
// silo alias and then DefaultDepartment.
func (s Step) DepartmentOrDefault() string {
	switch {
	case s.Department != "":
		return s.Department
	case s.Silo != "":
		return s.Silo
	default:
		return DefaultDepartment
	}
}

// ActionOrDefault returns the action description or DefaultAction.
func (s Step) ActionOrDefault() string {
	if s.Action == "" {
		return DefaultAction
	}
	return s.Action
}

// Strategy is the ordered plan a mission executes.
type Strategy struct {
	Name        string `json:"name,omitempty"         yaml:"name,omitempty"`
	Steps       []Step `json:"steps"                  yaml:"steps"`
	CurrentStep int    `json:"current_step,omitempty" yaml:"current_step,omitempty"`
}

// Vitals carries the live position of a mission.
type Vitals struct {
	ActiveAgent      string `json:"active_agent,omitempty"`
	ActiveDepartment string `json:"active_sector,omitempty"`
}

// MissionState is the evolving record of one mission. It is owned by a
// single mission task and is never shared between missions.
type MissionState struct {
	ID          string            `json:"mission_id"`
	Status      MissionStatus     `json:"status"`
	CallerKey   string            `json:"-"`
	Messages    []Message         `json:"messages"`
	ToolResults map[string]string `json:"tool_results"`
	CurrentStep int               `json:"current_step"`
	Strategy    Strategy          `json:"mission_strategy"`
	Vitals      Vitals            `json:"vitals"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Fault       string            `json:"fault,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at,omitempty"`
}

// NewMissionState returns a pending mission positioned at the default department.
func NewMissionState(id, callerKey string, strategy Strategy) *MissionState {
	return &MissionState{
		ID:          id,
		Status:      MissionPending,
		CallerKey:   callerKey,
		Messages:    make([]Message, 0),
		ToolResults: make(map[string]string),
		Strategy:    strategy,
		Vitals:      Vitals{ActiveDepartment: DefaultDepartment},
		Metadata:    make(map[string]string),
		StartedAt:   time.Now(),
	}
}

// Terminal reports whether the mission has finished.
func (m *MissionState) Terminal() bool {
	return m.Status == MissionComplete || m.Status == MissionFaulted
}
