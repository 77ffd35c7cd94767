package domain

import (
	"context"
	"time"
)

// KnowledgeEvent is one committed step outcome.
type KnowledgeEvent struct {
	MissionID  string    `json:"mission_id"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name,omitempty"`
	Department string    `json:"department"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	CreatedAt  time.Time `json:"created_at"`
}

// SemanticMemory is the external knowledge store consulted before each step
// and written after it.
type SemanticMemory interface {
	// Recall returns context relevant to query. An empty department means no filter.
	Recall(ctx context.Context, query, department string) (string, error)
	Commit(ctx context.Context, ev KnowledgeEvent) error
}
