package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"realmforge/internal/domain"
)

// Contribution is one line of the contribution log.
type Contribution struct {
	Timestamp  time.Time `json:"timestamp"`
	MissionID  string    `json:"mission_id"`
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name,omitempty"`
	Department string    `json:"department"`
	Action     string    `json:"action"`
	ResultSize int       `json:"result_size"`
}

// ContributionLog decorates a SemanticMemory and appends one JSON line per
// committed event to an audit file. A failed append is returned even though
// the inner commit has already landed.
type ContributionLog struct {
	inner domain.SemanticMemory
	mu    sync.Mutex
	file  *os.File
	enc   *json.Encoder
}

// NewContributionLog opens path for appending.
func NewContributionLog(inner domain.SemanticMemory, path string) (*ContributionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create contribution log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open contribution log: %w", err)
	}
	return &ContributionLog{inner: inner, file: f, enc: json.NewEncoder(f)}, nil
}

func (c *ContributionLog) Recall(ctx context.Context, query, department string) (string, error) {
	return c.inner.Recall(ctx, query, department)
}

func (c *ContributionLog) Commit(ctx context.Context, ev domain.KnowledgeEvent) error {
	if err := c.inner.Commit(ctx, ev); err != nil {
		return err
	}
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enc.Encode(Contribution{
		Timestamp:  ts.UTC(),
		MissionID:  ev.MissionID,
		AgentID:    ev.AgentID,
		AgentName:  ev.AgentName,
		Department: ev.Department,
		Action:     ev.Action,
		ResultSize: len(ev.Result),
	}); err != nil {
		return fmt.Errorf("append contribution for %s: %w", ev.MissionID, err)
	}
	return nil
}

// Close closes the log file.
func (c *ContributionLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}
