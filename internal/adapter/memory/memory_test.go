package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/domain"
)

var seedEvents = []domain.KnowledgeEvent{
	{MissionID: "MSN-1", AgentID: "SEC-1", Department: "Cybersecurity", Action: "Audit firewall rules", Result: "Found open port 22 on bastion"},
	{MissionID: "MSN-1", AgentID: "ENG-1", Department: "Software_Engineering", Action: "Refactor payment service", Result: "Extracted ledger module"},
	{MissionID: "MSN-2", AgentID: "SEC-2", Department: "Cybersecurity", Action: "Review payment firewall", Result: "Rules consistent"},
}

func seed(t *testing.T, m domain.SemanticMemory) {
	t.Helper()
	for i, ev := range seedEvents {
		ev.CreatedAt = time.Date(2030, 1, 1, 0, i, 0, 0, time.UTC)
		require.NoError(t, m.Commit(context.Background(), ev))
	}
}

func stores(t *testing.T) map[string]domain.SemanticMemory {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "memory.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	return map[string]domain.SemanticMemory{
		"inmemory": NewInMemory(3),
		"sqlite":   sq,
	}
}

func TestRecallMatchesKeywords(t *testing.T) {
	for name, m := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, m)
			ctx := context.Background()

			got, err := m.Recall(ctx, "firewall audit", "")
			require.NoError(t, err)
			assert.Contains(t, got, "Audit firewall rules")
			assert.Contains(t, got, "Review payment firewall")
			assert.NotContains(t, got, "Refactor")
			assert.Equal(t, "Audit firewall rules", strings.TrimPrefix(strings.Split(strings.Split(got, "\n")[0], ": ")[0], "- [Cybersecurity] "))

			got, err = m.Recall(ctx, "payment", "software engineering")
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = m.Recall(ctx, "payment", "Software_Engineering")
			require.NoError(t, err)
			assert.Equal(t, "- [Software_Engineering] Refactor payment service: Extracted ledger module", got)

			got, err = m.Recall(ctx, "a b !!", "")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSQLiteRecallTreatsQueryAsText(t *testing.T) {
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "m.db"), 5)
	require.NoError(t, err)
	defer sq.Close()
	seed(t, sq)

	got, err := sq.Recall(context.Background(), `firewall" OR NEAR(`, "")
	require.NoError(t, err)
	assert.Contains(t, got, "firewall")
}

func TestInMemoryLimit(t *testing.T) {
	m := NewInMemory(1)
	seed(t, m)
	got, err := m.Recall(context.Background(), "firewall", "")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(got, "\n")+1)
	assert.Equal(t, 3, m.Len())
}

type countingMemory struct {
	recalls  int
	commits  int
	fail     bool
	onRecall func()
}

func (c *countingMemory) Recall(context.Context, string, string) (string, error) {
	c.recalls++
	if c.onRecall != nil {
		c.onRecall()
	}
	if c.fail {
		return "", errors.New("offline")
	}
	return "ctx", nil
}

func (c *countingMemory) Commit(context.Context, domain.KnowledgeEvent) error {
	c.commits++
	if c.fail {
		return errors.New("offline")
	}
	return nil
}

func TestCachedRecall(t *testing.T) {
	inner := &countingMemory{}
	c := NewCached(inner, time.Minute)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Recall(ctx, "q", "Architect")
		require.NoError(t, err)
		assert.Equal(t, "ctx", got)
	}
	assert.Equal(t, 1, inner.recalls)

	_, _ = c.Recall(ctx, "q", "Cybersecurity")
	assert.Equal(t, 2, inner.recalls)

	require.NoError(t, c.Commit(ctx, domain.KnowledgeEvent{}))
	_, _ = c.Recall(ctx, "q", "Architect")
	assert.Equal(t, 3, inner.recalls)

	now = now.Add(2 * time.Minute)
	_, _ = c.Recall(ctx, "q", "Architect")
	assert.Equal(t, 4, inner.recalls)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &countingMemory{fail: true}
	c := NewCached(inner, time.Minute)
	_, err := c.Recall(context.Background(), "q", "")
	assert.Error(t, err)
	_, err = c.Recall(context.Background(), "q", "")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.recalls)
}

func TestCachedDropsRecallRacingCommit(t *testing.T) {
	inner := &countingMemory{}
	c := NewCached(inner, time.Minute)
	ctx := context.Background()

	inner.onRecall = func() {
		inner.onRecall = nil
		require.NoError(t, c.Commit(ctx, domain.KnowledgeEvent{}))
	}
	_, err := c.Recall(ctx, "q", "Architect")
	require.NoError(t, err)

	_, err = c.Recall(ctx, "q", "Architect")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.recalls, "the recall overlapping a commit is not cached")

	_, _ = c.Recall(ctx, "q", "Architect")
	assert.Equal(t, 2, inner.recalls)
}

func TestContributionLogAppendsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "contributions.jsonl")
	inner := NewInMemory(3)
	cl, err := NewContributionLog(inner, path)
	require.NoError(t, err)
	seed(t, cl)
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Contribution
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var c Contribution
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		lines = append(lines, c)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "SEC-1", lines[0].AgentID)
	assert.Equal(t, len(seedEvents[0].Result), lines[0].ResultSize)
	assert.Equal(t, 3, inner.Len())
}

func TestContributionLogSkipsFailedCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jsonl")
	cl, err := NewContributionLog(&countingMemory{fail: true}, path)
	require.NoError(t, err)
	defer cl.Close()

	assert.Error(t, cl.Commit(context.Background(), domain.KnowledgeEvent{}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestContributionLogReportsWriteFailure(t *testing.T) {
	inner := NewInMemory(3)
	cl, err := NewContributionLog(inner, filepath.Join(t.TempDir(), "c.jsonl"))
	require.NoError(t, err)
	require.NoError(t, cl.Close())

	err = cl.Commit(context.Background(), domain.KnowledgeEvent{MissionID: "MSN-9", Result: "kept"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MSN-9")
	assert.Equal(t, 1, inner.Len())
}

func TestNoop(t *testing.T) {
	var m domain.SemanticMemory = Noop{}
	got, err := m.Recall(context.Background(), "x", "")
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, m.Commit(context.Background(), domain.KnowledgeEvent{}))
}
