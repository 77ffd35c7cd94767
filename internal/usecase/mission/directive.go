package mission

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"realmforge/internal/domain"
)

// Directive is a tool call requested by an agent.
type Directive struct {
	ID         string
	Tool       string
	Args       map[string]any
	Structured bool // came from the engine's tool-call field
}

// fencedJSONRe matches a markdown code fence anywhere in a reply.
var fencedJSONRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// ParseDirective looks for a tool call in an engine reply. A structured tool
// call wins over free text. Free text is only considered when it contains
// both a brace and the word "tool"; it must then hold a JSON object with a
// string tool_name and optional object args.
//
// found is false when the reply carries no directive. A reply that looked
// like a directive but could not be read returns an error wrapping
// domain.ErrDirectiveMalformed.
func ParseDirective(msg domain.Message) (d Directive, found bool, err error) {
	if len(msg.ToolCalls) > 0 {
		return structuredDirective(msg.ToolCalls[0])
	}

	content := msg.Content
	if !strings.Contains(content, "{") || !strings.Contains(content, "tool") {
		return Directive{}, false, nil
	}

	obj, ok := extractJSONObject(content)
	if !ok {
		return Directive{}, false, malformed("no JSON object in reply")
	}
	name, _ := obj["tool_name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return Directive{}, false, malformed("missing tool_name")
	}

	args := map[string]any{}
	if raw, present := obj["args"]; present && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return Directive{}, false, malformed(fmt.Sprintf("args of %s is not an object", name))
		}
		args = m
	}
	return Directive{Tool: name, Args: args}, true, nil
}

func structuredDirective(tc domain.ToolCall) (Directive, bool, error) {
	if strings.TrimSpace(tc.Name) == "" {
		return Directive{}, false, malformed("structured tool call without a name")
	}
	args := map[string]any{}
	if raw := strings.TrimSpace(string(tc.Arguments)); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return Directive{}, false, malformed(fmt.Sprintf("arguments of %s: %v", tc.Name, err))
		}
	}
	return Directive{ID: tc.ID, Tool: tc.Name, Args: args, Structured: true}, true, nil
}

func malformed(detail string) error {
	return domain.NewSubSystemError("mission", "ParseDirective", domain.ErrDirectiveMalformed, detail)
}

// extractJSONObject returns the first JSON object found in s. Fenced blocks
// are tried before bare text.
func extractJSONObject(s string) (map[string]any, bool) {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(s, -1) {
		if obj, ok := firstObject(m[1]); ok {
			return obj, true
		}
	}
	return firstObject(s)
}

// firstObject scans s for balanced {...} spans and returns the first that
// decodes as an object.
func firstObject(s string) (map[string]any, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > start {
			var obj map[string]any
			if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err == nil {
				return obj, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at open, or -1.
// Braces inside JSON strings are ignored.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
