package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"realmforge/internal/domain"
)

const maxWorkspaceRead = 256 * 1024

// CorePlugin provides the built-in arsenal.
type CorePlugin struct {
	sandbox *Sandbox
	now     func() time.Time
}

// NewCorePlugin creates the built-in plugin. sandbox may be nil, in which case
// the workspace tools are not exported.
func NewCorePlugin(sandbox *Sandbox) *CorePlugin {
	return &CorePlugin{sandbox: sandbox, now: time.Now}
}

func (p *CorePlugin) Name() string { return "core" }

func (p *CorePlugin) Descriptors() []domain.ToolDescriptor {
	descs := []domain.ToolDescriptor{
		{
			Name:        "system_clock",
			Category:    "Utility",
			Description: "Returns the current UTC time.",
			Invoke:      p.clock,
		},
		{
			Name:        "text_metrics",
			Category:    "Analysis",
			Description: "Counts characters, words and lines in a text.",
			Parameters:  []string{"text"},
			Invoke:      textMetrics,
		},
		{
			Name:        "json_extract",
			Category:    "Analysis",
			Description: "Extracts a value from a JSON document by dotted path.",
			Parameters:  []string{"document", "path"},
			Invoke:      jsonExtract,
		},
	}
	if p.sandbox == nil {
		return descs
	}
	return append(descs,
		domain.ToolDescriptor{
			Name:        "workspace_read",
			Category:    "Workspace",
			Description: "Reads a file from the mission workspace.",
			Parameters:  []string{"path"},
			Invoke:      p.workspaceRead,
		},
		domain.ToolDescriptor{
			Name:        "workspace_write",
			Category:    "Workspace",
			Description: "Writes a file into the mission workspace.",
			Parameters:  []string{"path", "content"},
			Invoke:      p.workspaceWrite,
		},
		domain.ToolDescriptor{
			Name:        "workspace_list",
			Category:    "Workspace",
			Description: "Lists a directory of the mission workspace.",
			Parameters:  []string{"path"},
			Invoke:      p.workspaceList,
		},
	)
}

func (p *CorePlugin) clock(context.Context, map[string]any) (any, error) {
	now := p.now().UTC()
	return map[string]any{
		"utc":  now.Format(time.RFC3339),
		"unix": now.Unix(),
	}, nil
}

func textMetrics(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text", true)
	if err != nil {
		return nil, err
	}
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n") + 1
	}
	return map[string]int{
		"characters": utf8.RuneCountInString(text),
		"words":      len(strings.Fields(text)),
		"lines":      lines,
	}, nil
}

func jsonExtract(_ context.Context, args map[string]any) (any, error) {
	var doc any
	switch v := args["document"].(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return nil, fmt.Errorf("document is not valid JSON: %w", err)
		}
	case nil:
		return nil, fmt.Errorf("missing argument %q", "document")
	default:
		doc = v
	}

	path, err := stringArg(args, "path", false)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return doc, nil
	}

	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("path %q: key %q not found", path, seg)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("path %q: invalid index %q", path, seg)
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("path %q: cannot descend into %T at %q", path, cur, seg)
		}
	}
	return cur, nil
}

func (p *CorePlugin) workspaceRead(ctx context.Context, args map[string]any) (any, error) {
	rel, err := stringArg(args, "path", true)
	if err != nil {
		return nil, err
	}
	path, err := p.sandbox.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxWorkspaceRead))
	if err != nil {
		return nil, err
	}
	if len(data) == maxWorkspaceRead {
		data = trimPartialRune(data)
	}
	return string(data), nil
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end of data
// by a length cut.
func trimPartialRune(data []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(data) > 0; i++ {
		r, size := utf8.DecodeLastRune(data)
		if r != utf8.RuneError || size != 1 {
			break
		}
		data = data[:len(data)-1]
	}
	return data
}

func (p *CorePlugin) workspaceWrite(ctx context.Context, args map[string]any) (any, error) {
	rel, err := stringArg(args, "path", true)
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content", false)
	if err != nil {
		return nil, err
	}
	path, err := p.sandbox.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), rel), nil
}

func (p *CorePlugin) workspaceList(_ context.Context, args map[string]any) (any, error) {
	rel, err := stringArg(args, "path", false)
	if err != nil {
		return nil, err
	}
	if rel == "" {
		rel = "."
	}
	path, err := p.sandbox.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("missing argument %q", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, v)
	}
	return s, nil
}
