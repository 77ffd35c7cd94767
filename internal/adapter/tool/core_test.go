package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/domain"
)

func coreTool(t *testing.T, p *CorePlugin, name string) domain.ToolFunc {
	t.Helper()
	for _, d := range p.Descriptors() {
		if d.Name == name {
			return d.Invoke
		}
	}
	t.Fatalf("core tool %q not exported", name)
	return nil
}

func TestCorePluginWithoutSandbox(t *testing.T) {
	p := NewCorePlugin(nil)
	names := map[string]bool{}
	for _, d := range p.Descriptors() {
		names[d.Name] = true
	}
	assert.True(t, names["system_clock"])
	assert.False(t, names["workspace_read"])
}

func TestSystemClock(t *testing.T) {
	p := NewCorePlugin(nil)
	p.now = func() time.Time { return time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC) }

	out, err := coreTool(t, p, "system_clock")(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "2030-01-02T03:04:05Z", out.(map[string]any)["utc"])
}

func TestTextMetrics(t *testing.T) {
	out, err := textMetrics(context.Background(), map[string]any{"text": "hello world\nsecond line"})
	require.NoError(t, err)
	m := out.(map[string]int)
	assert.Equal(t, 4, m["words"])
	assert.Equal(t, 2, m["lines"])

	_, err = textMetrics(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestJSONExtract(t *testing.T) {
	doc := `{"crew":{"members":[{"name":"Ada"},{"name":"Linus"}]}}`

	tests := []struct {
		path    string
		want    any
		wantErr bool
	}{
		{path: "crew.members.1.name", want: "Linus"},
		{path: "crew.missing", wantErr: true},
		{path: "crew.members.9", wantErr: true},
		{path: "crew.members.0.name.x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := jsonExtract(context.Background(), map[string]any{"document": doc, "path": tt.path})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := jsonExtract(context.Background(), map[string]any{"document": "{not json"})
	assert.Error(t, err)
}

func TestWorkspaceTools(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	p := NewCorePlugin(sb)
	ctx := context.Background()

	_, err = coreTool(t, p, "workspace_write")(ctx, map[string]any{"path": "notes.txt", "content": "plan"})
	require.NoError(t, err)

	got, err := coreTool(t, p, "workspace_read")(ctx, map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "plan", got)

	require.NoError(t, os.Mkdir(filepath.Join(sb.Root(), "drafts"), 0o700))
	list, err := coreTool(t, p, "workspace_list")(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"drafts/", "notes.txt"}, list)
}

func TestWorkspaceReadTruncatesOnRuneBoundary(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)
	p := NewCorePlugin(sb)

	content := strings.Repeat("a", maxWorkspaceRead-1) + "é" + strings.Repeat("b", 1024)
	require.NoError(t, os.WriteFile(filepath.Join(sb.Root(), "big.txt"), []byte(content), 0o600))

	got, err := coreTool(t, p, "workspace_read")(context.Background(), map[string]any{"path": "big.txt"})
	require.NoError(t, err)
	text := got.(string)
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, maxWorkspaceRead-1, len(text))
}

func TestTrimPartialRune(t *testing.T) {
	assert.Equal(t, []byte("ab"), trimPartialRune([]byte("ab\xe4\xb8")))
	assert.Equal(t, []byte("ab中"), trimPartialRune([]byte("ab中")))
	assert.Empty(t, trimPartialRune([]byte{0xf0, 0x9f, 0x98}))
}

func TestSandboxRejectsEscapes(t *testing.T) {
	sb, err := NewSandbox(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		_, err := sb.Resolve(p)
		assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox, p)
	}

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(sb.Root(), "link")))
	_, err = sb.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, domain.ErrPathOutsideSandbox)
}
