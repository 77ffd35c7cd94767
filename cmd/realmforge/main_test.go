package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realmforge/internal/adapter/observer"
	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
	"realmforge/internal/usecase/directory"
)

const architectManifest = `
identity:
  full_name: Mira Stone
  employee_id: ARC-001
professional:
  department: Architect
  role_title: Principal Architect
  tools_assigned: [system_clock]
attributes:
  backstory: Drew the first city plans.
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	agents := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agents, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(agents, "mira.yaml"), []byte(architectManifest), 0o600))

	cfg := config.Defaults()
	cfg.LLM.Provider = config.ProviderConfig{Name: "scripted", Type: "scripted", Script: []string{"Blueprint drafted."}}
	cfg.LLM.CircuitBreaker.Enabled = false
	cfg.Retry.Delay = time.Millisecond
	cfg.Ledger.Path = filepath.Join(dir, "ledger.db")
	cfg.Directory.ManifestDir = agents
	cfg.Tools.WorkspaceRoot = filepath.Join(dir, "workspace")
	cfg.Memory = config.MemoryConfig{Backend: "inmemory", RecallLimit: 3}
	cfg.Telemetry.ListenAddr = "127.0.0.1:0"
	return cfg
}

func testApp(t *testing.T, cfg *config.Config) (*app, *bytes.Buffer) {
	t.Helper()
	a, err := buildApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	out := &bytes.Buffer{}
	a.out = out
	return a, out
}

func TestConfigPath(t *testing.T) {
	t.Setenv("REALMFORGE_CONFIG", "")

	path, rest := configPath([]string{"--caller", "k", "--config", "custom.yaml", "--json"})
	assert.Equal(t, "custom.yaml", path)
	assert.Equal(t, []string{"--caller", "k", "--json"}, rest)

	path, rest = configPath([]string{"--config=other.yaml"})
	assert.Equal(t, "other.yaml", path)
	assert.Empty(t, rest)

	path, _ = configPath(nil)
	assert.Equal(t, "config.yaml", path)

	t.Setenv("REALMFORGE_CONFIG", "/etc/realmforge.yaml")
	path, _ = configPath(nil)
	assert.Equal(t, "/etc/realmforge.yaml", path)
}

func TestCreditRunReport(t *testing.T) {
	a, out := testApp(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, cmdCredit(ctx, a, []string{"--caller", "guild-7", "--amount", "100"}))
	assert.Contains(t, out.String(), "guild-7 balance: 100")
	out.Reset()

	require.NoError(t, cmdRun(ctx, a, []string{"--caller", "guild-7", "--department", "Architect", "--action", "Draft the citadel"}))
	assert.Contains(t, out.String(), string(domain.MissionComplete))
	assert.Contains(t, out.String(), "Blueprint drafted.")
	out.Reset()

	balance, err := a.ledger.Balance(ctx, "guild-7")
	require.NoError(t, err)
	assert.Less(t, balance, 100)

	require.NoError(t, cmdReport(ctx, a, []string{"--caller", "guild-7", "--records", "5"}))
	report := out.String()
	assert.Contains(t, report, "TOTAL")
	assert.Contains(t, report, "Balance: ")
	assert.Contains(t, report, "MSN-")
}

func TestRunJSON(t *testing.T) {
	a, out := testApp(t, testConfig(t))

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - department: Architect\n    action: Survey\n"), 0o600))

	require.NoError(t, cmdRun(context.Background(), a, []string{"--strategy", path, "--json"}))

	var state domain.MissionState
	require.NoError(t, json.Unmarshal(out.Bytes(), &state))
	assert.Equal(t, domain.MissionComplete, state.Status)
	assert.Equal(t, "plan", state.Strategy.Name)
	assert.True(t, strings.HasPrefix(state.ID, "MSN-"))
}

func TestRunRequiresStrategy(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	err := cmdRun(context.Background(), a, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReportRequiresCaller(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	assert.ErrorIs(t, cmdReport(context.Background(), a, nil), domain.ErrInvalidInput)
}

func TestCreditRejectsNonPositive(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	assert.ErrorIs(t, cmdCredit(context.Background(), a, []string{"--caller", "k", "--amount", "0"}), domain.ErrInvalidInput)
}

func TestRoster(t *testing.T) {
	a, out := testApp(t, testConfig(t))
	require.NoError(t, cmdRoster(context.Background(), a, nil))
	assert.Contains(t, out.String(), "system_clock")
	assert.Contains(t, out.String(), "workspace_read")
}

func TestRosterAgents(t *testing.T) {
	a, out := testApp(t, testConfig(t))
	require.NoError(t, cmdRoster(context.Background(), a, []string{"--agents"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ROLE")
	for _, want := range []string{"Architect", "ARC-001", "Mira Stone", "Principal Architect", "system_clock"} {
		assert.Contains(t, lines[1], want)
	}
}

func TestValidate(t *testing.T) {
	a, out := testApp(t, testConfig(t))
	err := cmdValidate(context.Background(), a, nil)

	var report directory.IntegrityReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 1, report.TotalAgents)
	if report.Status == directory.StatusNominal {
		assert.NoError(t, err)
	} else {
		assert.Error(t, err)
	}
}

func TestValidateReportsMissingTool(t *testing.T) {
	cfg := testConfig(t)
	manifest := strings.Replace(architectManifest, "[system_clock]", "[orbital_laser]", 1)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Directory.ManifestDir, "mira.yaml"), []byte(manifest), 0o600))

	a, out := testApp(t, cfg)
	assert.Error(t, cmdValidate(context.Background(), a, nil))
	assert.Contains(t, out.String(), "orbital_laser")
}

func TestStatusAndLaunchRoutes(t *testing.T) {
	a, _ := testApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	launcher := newMissionLauncher(ctx, a)
	mux := http.NewServeMux()
	srv := observer.NewServer(a.bus, a.cfg.Telemetry, a.log)
	mux.HandleFunc("/api/v1/status", statusHandler(a, srv, nil))
	mux.HandleFunc("/api/v1/missions", launcher.ServeHTTP)

	body := `{"caller_key":"guild-7","task":"Plan","strategy":{"steps":[{"department":"Architect","action":"Sketch"}]}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/missions", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var launched map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &launched))
	assert.True(t, strings.HasPrefix(launched["mission_id"], "MSN-"))
	launcher.Wait()

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/missions", strings.NewReader(`{"strategy":{"steps":[]}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/missions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, a.tools.Len(), status.Tools)
	assert.Equal(t, 1, status.Agents.Agents)
	assert.Equal(t, 1, status.Observers)
	assert.Zero(t, status.Clients)
}
