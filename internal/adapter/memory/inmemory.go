package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"realmforge/internal/domain"
)

// InMemory scores stored events by keyword overlap with the query.
type InMemory struct {
	mu     sync.RWMutex
	events []domain.KnowledgeEvent
	limit  int
}

// NewInMemory creates a store returning at most limit events per recall.
func NewInMemory(limit int) *InMemory {
	if limit <= 0 {
		limit = 3
	}
	return &InMemory{limit: limit}
}

func (m *InMemory) Commit(ctx context.Context, ev domain.KnowledgeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *InMemory) Recall(ctx context.Context, query, department string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	want := terms(query)
	if len(want) == 0 {
		return "", nil
	}

	type scored struct {
		ev    domain.KnowledgeEvent
		score int
	}
	var hits []scored

	m.mu.RLock()
	for _, ev := range m.events {
		if department != "" && !strings.EqualFold(ev.Department, department) {
			continue
		}
		have := make(map[string]struct{})
		for _, t := range terms(ev.Action + " " + ev.Result) {
			have[t] = struct{}{}
		}
		score := 0
		for _, t := range want {
			if _, ok := have[t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{ev: ev, score: score})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].ev.CreatedAt.After(hits[j].ev.CreatedAt)
	})
	if len(hits) > m.limit {
		hits = hits[:m.limit]
	}
	events := make([]domain.KnowledgeEvent, len(hits))
	for i, h := range hits {
		events[i] = h.ev
	}
	return formatRecall(events), nil
}

// Len returns the number of stored events.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
