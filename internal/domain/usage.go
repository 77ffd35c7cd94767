package domain

import (
	"math"
	"time"
)

// UsageKind tags where a response's token count was found.
type UsageKind int

const (
	UsageAbsent UsageKind = iota
	UsageDirect           // structured ChatResponse.Usage
	UsageNested           // Metadata["token_usage"]
	UsageLegacy           // Metadata["usage"]
)

func (k UsageKind) String() string {
	switch k {
	case UsageDirect:
		return "direct"
	case UsageNested:
		return "nested"
	case UsageLegacy:
		return "legacy"
	default:
		return "absent"
	}
}

// Metadata keys probed for usage when the structured field is missing.
const (
	MetaTokenUsage = "token_usage"
	MetaUsage      = "usage"
)

// UsageSource is the resolved token count and the variant that produced it.
type UsageSource struct {
	Kind        UsageKind
	TotalTokens int
}

// ExtractUsage resolves the token count of resp in fixed priority order:
// Direct, Nested, Legacy, Absent. A nil response is Absent.
func ExtractUsage(resp *ChatResponse) UsageSource {
	if resp == nil {
		return UsageSource{Kind: UsageAbsent}
	}
	if resp.Usage != nil {
		return UsageSource{Kind: UsageDirect, TotalTokens: max(resp.Usage.TotalTokens, 0)}
	}
	if n, ok := totalTokensIn(resp.Metadata[MetaTokenUsage]); ok {
		return UsageSource{Kind: UsageNested, TotalTokens: n}
	}
	if n, ok := totalTokensIn(resp.Metadata[MetaUsage]); ok {
		return UsageSource{Kind: UsageLegacy, TotalTokens: n}
	}
	return UsageSource{Kind: UsageAbsent}
}

func totalTokensIn(v any) (int, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	raw, ok := m["total_tokens"]
	if !ok {
		return 0, false
	}
	switch n := raw.(type) {
	case int:
		return max(n, 0), true
	case int64:
		return max(int(n), 0), true
	case float64:
		if math.IsNaN(n) || n < 0 {
			return 0, true
		}
		return int(n), true
	default:
		return 0, false
	}
}

// CostForTokens converts tokens to credits: one per thousand, never below one.
func CostForTokens(totalTokens int) int {
	return max(1, totalTokens/1000)
}

// UsageRecord is one metering event. Records are append-only.
type UsageRecord struct {
	ID          string    `json:"id"`
	CallerKey   string    `json:"key"`
	MissionID   string    `json:"mission_id"`
	AgentID     string    `json:"agent_id"`
	Department  string    `json:"silo_id"`
	Tokens      int       `json:"tokens"`
	Cost        int       `json:"cost"`
	TaskSummary string    `json:"task_summary"`
	CreatedAt   time.Time `json:"created_at"`
}
