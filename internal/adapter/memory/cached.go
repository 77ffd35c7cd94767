package memory

import (
	"context"
	"sync"
	"time"

	"realmforge/internal/domain"
)

// Cached wraps a SemanticMemory with a TTL-based recall cache. Any commit
// invalidates the whole cache.
type Cached struct {
	inner domain.SemanticMemory
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[cacheKey]cachedRecall
	gen   uint64 // bumped by every invalidation
}

type cacheKey struct {
	query      string
	department string
}

type cachedRecall struct {
	text      string
	expiresAt time.Time
}

// NewCached wraps inner with a recall cache using the given TTL.
func NewCached(inner domain.SemanticMemory, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[cacheKey]cachedRecall),
	}
}

func (c *Cached) Recall(ctx context.Context, query, department string) (string, error) {
	key := cacheKey{query: query, department: department}

	c.mu.RLock()
	if hit, ok := c.cache[key]; ok && c.now().Before(hit.expiresAt) {
		c.mu.RUnlock()
		return hit.text, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	text, err := c.inner.Recall(ctx, query, department)
	if err != nil {
		return "", err
	}

	// A commit that landed during the inner recall makes text stale.
	c.mu.Lock()
	if c.gen == gen {
		c.cache[key] = cachedRecall{text: text, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
	return text, nil
}

func (c *Cached) Commit(ctx context.Context, ev domain.KnowledgeEvent) error {
	err := c.inner.Commit(ctx, ev)
	if err == nil {
		c.invalidate()
	}
	return err
}

func (c *Cached) invalidate() {
	c.mu.Lock()
	c.cache = make(map[cacheKey]cachedRecall)
	c.gen++
	c.mu.Unlock()
}
