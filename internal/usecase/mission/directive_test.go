package mission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/domain"
)

func TestParseDirective(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantFound bool
		wantErr   bool
		wantTool  string
		wantArgs  map[string]any
	}{
		{
			name:    "plain prose",
			content: "The blueprint is ready.",
		},
		{
			name:    "brace without the word",
			content: `Result: {"status": "ok"}`,
		},
		{
			name:    "word without a brace",
			content: "I do not need a tool for this.",
		},
		{
			name:      "bare object",
			content:   `{"tool_name": "system_clock", "args": {"zone": "UTC"}}`,
			wantFound: true,
			wantTool:  "system_clock",
			wantArgs:  map[string]any{"zone": "UTC"},
		},
		{
			name:      "object inside prose",
			content:   `Let me check. {"tool_name": "text_metrics", "args": {"text": "a {b} c"}} Then I'll report.`,
			wantFound: true,
			wantTool:  "text_metrics",
			wantArgs:  map[string]any{"text": "a {b} c"},
		},
		{
			name:      "fenced block",
			content:   "Calling the tool now:\n```json\n{\"tool_name\": \"json_extract\", \"args\": {\"path\": \"a\"}}\n```",
			wantFound: true,
			wantTool:  "json_extract",
			wantArgs:  map[string]any{"path": "a"},
		},
		{
			name:      "missing args",
			content:   `{"tool_name": "system_clock"}`,
			wantFound: true,
			wantTool:  "system_clock",
			wantArgs:  map[string]any{},
		},
		{
			name:      "skips a leading non-json brace",
			content:   `Using {placeholder} then the tool {"tool_name": "system_clock"}`,
			wantFound: true,
			wantTool:  "system_clock",
			wantArgs:  map[string]any{},
		},
		{
			name:    "no tool_name",
			content: `{"tool": "system_clock"}`,
			wantErr: true,
		},
		{
			name:    "unparseable",
			content: `tool call: {"tool_name": "system_clock"`,
			wantErr: true,
		},
		{
			name:    "args not an object",
			content: `{"tool_name": "system_clock", "args": ["UTC"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, found, err := ParseDirective(domain.Message{Content: tt.content})
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDirectiveMalformed)
				assert.False(t, found)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFound, found)
			if !tt.wantFound {
				return
			}
			assert.Equal(t, tt.wantTool, d.Tool)
			assert.Equal(t, tt.wantArgs, d.Args)
			assert.False(t, d.Structured)
		})
	}
}

func TestParseDirectiveStructured(t *testing.T) {
	d, found, err := ParseDirective(domain.Message{
		Content: "no text directive here",
		ToolCalls: []domain.ToolCall{
			{ID: "call_1", Name: "system_clock", Arguments: json.RawMessage(`{"zone":"UTC"}`)},
			{ID: "call_2", Name: "text_metrics"},
		},
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, d.Structured)
	assert.Equal(t, "call_1", d.ID)
	assert.Equal(t, "system_clock", d.Tool)
	assert.Equal(t, map[string]any{"zone": "UTC"}, d.Args)

	d, found, err = ParseDirective(domain.Message{ToolCalls: []domain.ToolCall{{Name: "system_clock", Arguments: json.RawMessage("null")}}})
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, d.Args)

	_, found, err = ParseDirective(domain.Message{ToolCalls: []domain.ToolCall{{Name: "x", Arguments: json.RawMessage(`[1]`)}}})
	assert.False(t, found)
	assert.ErrorIs(t, err, domain.ErrDirectiveMalformed)

	_, found, err = ParseDirective(domain.Message{ToolCalls: []domain.ToolCall{{Name: " "}}})
	assert.False(t, found)
	assert.ErrorIs(t, err, domain.ErrDirectiveMalformed)
}
