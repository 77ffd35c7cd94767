// Package memory provides semantic memory stores for mission knowledge.
package memory

import (
	"strings"
	"unicode"

	"realmforge/internal/domain"
)

const maxResultExcerpt = 280

// formatRecall renders recalled events one per line, most relevant first.
func formatRecall(events []domain.KnowledgeEvent) string {
	if len(events) == 0 {
		return ""
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, "- ["+ev.Department+"] "+ev.Action+": "+excerpt(ev.Result))
	}
	return strings.Join(lines, "\n")
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxResultExcerpt {
		return s
	}
	end := 0
	for i := range s {
		if i > maxResultExcerpt {
			break
		}
		end = i
	}
	return s[:end] + "..."
}

// terms splits text into lowercase keywords of at least three characters.
func terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
