package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"realmforge/internal/domain"
)

// ScriptedProvider replays canned replies in order, wrapping around at the
// end. It lets missions run offline and keeps engine tests deterministic.
// With no script it acknowledges the last user turn.
type ScriptedProvider struct {
	name    string
	mu      sync.Mutex
	replies []string
	next    int
	calls   int
}

// NewScriptedProvider returns a provider that replays replies.
func NewScriptedProvider(name string, replies []string) *ScriptedProvider {
	if name == "" {
		name = "scripted"
	}
	return &ScriptedProvider{name: name, replies: append([]string(nil), replies...)}
}

// Chat implements domain.LLMProvider.
func (p *ScriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls++
	n := p.calls
	var reply string
	if len(p.replies) > 0 {
		reply = p.replies[p.next%len(p.replies)]
		p.next++
	}
	p.mu.Unlock()

	if reply == "" {
		reply = "Acknowledged: " + firstLine(lastUserTurn(req.Messages))
	}

	prompt := 0
	for _, m := range req.Messages {
		prompt += estimateTokens(m.Content)
	}
	completion := estimateTokens(reply)
	now := time.Now()

	return &domain.ChatResponse{
		ID:    fmt.Sprintf("%s-%d", p.name, n),
		Model: req.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   reply,
			Timestamp: now,
		},
		Usage: &domain.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		CreatedAt: now,
	}, nil
}

// Name implements domain.LLMProvider.
func (p *ScriptedProvider) Name() string { return p.name }

// Calls reports how many requests have been served.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// estimateTokens approximates four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func lastUserTurn(msgs []domain.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

var _ domain.LLMProvider = (*ScriptedProvider)(nil)
