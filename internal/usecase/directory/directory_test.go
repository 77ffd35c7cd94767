package directory

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/domain"
)

type staticCatalog []string

func (c staticCatalog) Names() []string { return c }

type captureBus struct {
	mu     sync.Mutex
	events []domain.TelemetryEvent
}

func (b *captureBus) Attach(domain.Observer) func() { return func() {} }
func (b *captureBus) Detach(domain.Observer)        {}
func (b *captureBus) Broadcast(_ context.Context, ev domain.TelemetryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

const adaManifest = `
identity:
  full_name: Ada Vance
  employee_id: ENG-001
  created_at: "2024-01-01"
professional:
  department: software engineering
  functional_role: Backend
  role_title: Staff Engineer
  tools_assigned: [workspace_write, quantum_compiler]
attributes:
  backstory: Built the first forge.
  personality: [precise, calm]
compliance:
  employee_id: ENG-001
  contract_version: "2"
  employment_type: FTE
  legal_jurisdiction: EU
  work_authorization: granted
system_metadata:
  schema_version: "1"
  project_root: /srv
`

const linusManifest = `{
  "identity": {"full_name": "Linus Rook", "employee_id": "SEC-7"},
  "professional": {"department": "CYBERSECURITY", "role_title": "Analyst"},
  "attributes": {"backstory": "Former red teamer.", "communication_style": "Blunt"},
  "system_metadata": {"god_mode_enabled": true}
}`

func testSource() StaticSource {
	return StaticSource{
		{Origin: "agents/ada.yaml", Data: []byte(adaManifest)},
		{Origin: "agents/linus.json", Data: []byte(linusManifest)},
		{Origin: "agents/nameless_one.yaml", Data: []byte("professional:\n  department: Nowhere\n")},
		{Origin: "agents/broken.yaml", Data: []byte("identity: [unclosed")},
		{Origin: "agents/empty.yaml", Data: []byte("  \n")},
	}
}

var testCatalog = staticCatalog{"system_clock", "text_metrics", "workspace_read", "workspace_write", "workspace_list"}

func newTestDirectory() (*Directory, *captureBus) {
	bus := &captureBus{}
	deptTools := map[string][]string{
		"Software_Engineering": {"system_clock", "workspace_read", "not_installed"},
		"Cybersecurity":        {"text_metrics"},
	}
	return New(testSource(), testCatalog, deptTools, bus, slog.Default()), bus
}

func TestDiscoverParsesAndSkipsMalformed(t *testing.T) {
	d, bus := newTestDirectory()

	defs, err := d.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	assert.Equal(t, "Ada Vance", defs[0].Name)
	assert.Equal(t, "ENG-001", defs[0].ID)
	assert.Equal(t, "Software_Engineering", defs[0].Department)

	assert.Equal(t, "Cybersecurity", defs[1].Department)

	assert.Equal(t, "nameless_one", defs[2].Name)
	assert.Equal(t, DefaultAgentID, defs[2].ID)
	assert.Equal(t, domain.DefaultDepartment, defs[2].Department)

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Malformed)
	assert.Equal(t, 1, stats.ByDepartment["Cybersecurity"])

	assert.Len(t, bus.events, 2)
	assert.Equal(t, domain.DiagManifestMalformed, bus.events[0].Fields["code"])
}

func TestDiscoverCachesUntilForced(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("ada.yaml", adaManifest)

	d := New(DirSource{Root: dir}, testCatalog, nil, nil, slog.Default())
	defs, err := d.Discover(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	write("linus.json", linusManifest)
	defs, err = d.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	defs, err = d.Discover(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestDirSourceWalksRecursively(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "silo", "deep"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "silo", "deep", "a.yml"), []byte("x: 1"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))

	raws, err := DirSource{Root: dir}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, raws, 2)

	raws, err = DirSource{Root: filepath.Join(dir, "missing")}.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestNormalizeDepartment(t *testing.T) {
	tests := map[string]string{
		"Software Engineering":    "Software_Engineering",
		"  data_intelligence ":    "Data_Intelligence",
		"LEGAL_COMPLIANCE":        "Legal_Compliance",
		"":                        "Architect",
		"Underwater Basket Guild": "Architect",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDepartment(in), "input %q", in)
	}
	assert.True(t, KnownDepartment("marketing pr"))
	assert.False(t, KnownDepartment("sales"))
}

func TestResolveToolsIntersectsCatalog(t *testing.T) {
	d, _ := newTestDirectory()
	inst, err := d.Instantiate(context.Background(), "ada vance")
	require.NoError(t, err)

	assert.Equal(t, []string{"system_clock", "workspace_read", "workspace_write"}, inst.Tools)
	assert.True(t, inst.Authorized("workspace_write"))
	assert.False(t, inst.Authorized("quantum_compiler"))
	assert.False(t, inst.Authorized("not_installed"))
}

func TestInstantiateUnknown(t *testing.T) {
	d, _ := newTestDirectory()
	_, err := d.Instantiate(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrAgentUnavailable)
}

func TestRandomFromDepartment(t *testing.T) {
	d, _ := newTestDirectory()
	d.WithRand(rand.New(rand.NewSource(1)))
	ctx := context.Background()

	inst, err := d.RandomFromDepartment(ctx, "cybersecurity")
	require.NoError(t, err)
	assert.Equal(t, "Linus Rook", inst.Name)
	assert.Equal(t, []string{"text_metrics"}, inst.Tools)

	_, err = d.RandomFromDepartment(ctx, "Financial_Ops")
	assert.ErrorIs(t, err, domain.ErrAgentUnavailable)
}

func TestBuildSystemPrompt(t *testing.T) {
	d, _ := newTestDirectory()
	ctx := context.Background()

	ada, err := d.Instantiate(ctx, "Ada Vance")
	require.NoError(t, err)
	prompt := BuildSystemPrompt(ada)
	assert.Equal(t, strings.Join([]string{
		"You are Ada Vance, the Staff Engineer in the Software_Engineering department.",
		"Your Backstory: Built the first forge.",
		"Communication Style: Professional",
		"Personality Traits: precise, calm",
		"STRICT PROTOCOL: You prefer action over words. Adhere to 'Commit Code' protocol.",
		"You have access to the following tools in your arsenal: system_clock, workspace_read, workspace_write",
	}, "\n"), prompt)
	assert.Equal(t, prompt, BuildSystemPrompt(ada))

	linus, err := d.Instantiate(ctx, "LINUS ROOK")
	require.NoError(t, err)
	prompt = BuildSystemPrompt(linus)
	assert.Contains(t, prompt, "Communication Style: Blunt")
	assert.True(t, strings.HasSuffix(prompt, "\nGOD_MODE is ENABLED. You have full system override permissions."))
}

func TestValidateWorkforce(t *testing.T) {
	d, _ := newTestDirectory()

	report, err := d.ValidateWorkforce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalAgents)
	assert.Equal(t, StatusCriticalErrors, report.Status)
	assert.Equal(t, []string{"Ada Vance requires unknown tool: quantum_compiler"}, report.MissingTools)

	require.Len(t, report.UnknownDepartments, 1)
	assert.Contains(t, report.UnknownDepartments[0], `"Nowhere" reassigned to Architect`)

	// Two unreadable files plus Linus and the nameless manifest failing the schema.
	assert.Len(t, report.BrokenManifests, 4)
	for _, b := range report.BrokenManifests {
		assert.NotContains(t, b, "Ada Vance")
	}
}

func TestValidateWorkforceNominal(t *testing.T) {
	d := New(StaticSource{{Origin: "ada.yaml", Data: []byte(adaManifest)}},
		append(staticCatalog{"quantum_compiler"}, testCatalog...), nil, nil, slog.Default())

	report, err := d.ValidateWorkforce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNominal, report.Status)
	assert.Empty(t, report.BrokenManifests)
	assert.Empty(t, report.MissingTools)
	assert.Empty(t, report.UnknownDepartments)
}
