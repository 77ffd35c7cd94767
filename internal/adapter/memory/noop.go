package memory

import (
	"context"

	"realmforge/internal/domain"
)

// Noop remembers nothing.
type Noop struct{}

func (Noop) Recall(context.Context, string, string) (string, error) { return "", nil }
func (Noop) Commit(context.Context, domain.KnowledgeEvent) error     { return nil }
