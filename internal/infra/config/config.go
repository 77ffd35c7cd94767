package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Retry     RetryConfig     `yaml:"retry"`
	Billing   BillingConfig   `yaml:"billing"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Directory DirectoryConfig `yaml:"directory"`
	Tools     ToolsConfig     `yaml:"tools"`
	Memory    MemoryConfig    `yaml:"memory"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// LLMConfig holds reasoning engine settings.
type LLMConfig struct {
	Provider       ProviderConfig       `yaml:"provider"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// ProviderConfig describes one OpenAI-compatible endpoint. Type "scripted"
// selects the offline provider that replays Script.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai" or "scripted"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Script      []string      `yaml:"script,omitempty"`
}

// PoolConfig tunes the HTTP connection pool of a provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig configures the breaker around the reasoning engine.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles reasoning engine calls. Zero disables throttling.
type RateLimitConfig struct {
	RequestsPerMin int `yaml:"requests_per_min"`
	Burst          int `yaml:"burst"`
}

// RetryConfig holds the default resilience policy.
type RetryConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
	Backoff float64       `yaml:"backoff"`
}

// BillingConfig holds usage metering settings.
type BillingConfig struct {
	// UnmeteredKeys never pay; values may be "enc:" encrypted.
	UnmeteredKeys []string `yaml:"unmetered_keys"`
	DevMode       bool     `yaml:"dev_mode"`
}

// LedgerConfig locates the credit ledger database.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// DirectoryConfig holds agent directory settings.
type DirectoryConfig struct {
	ManifestDir string `yaml:"manifest_dir"`
	// DepartmentTools maps silo name to its default tool set.
	DepartmentTools map[string][]string `yaml:"department_tools"`
}

// ToolsConfig holds capability registry settings.
type ToolsConfig struct {
	WorkspaceRoot string      `yaml:"workspace_root"`
	MCPServers    []MCPServer `yaml:"mcp_servers"`
}

// MCPServer describes an MCP server whose tools join the registry.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// MemoryConfig holds semantic memory settings.
type MemoryConfig struct {
	Backend         string        `yaml:"backend"`          // "inmemory", "sqlite" or "noop"
	Path            string        `yaml:"path"`             // sqlite database path
	ContributionLog string        `yaml:"contribution_log"` // JSONL path; empty disables
	RecallLimit     int           `yaml:"recall_limit"`
	CacheTTL        time.Duration `yaml:"cache_ttl"` // 0 disables the recall cache
}

// TelemetryConfig holds the observer endpoint settings.
type TelemetryConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// AuthTokens, when non-empty, are required as ?token= on websocket upgrades.
	AuthTokens []string `yaml:"auth_tokens,omitempty"`

	// API throttles the plain HTTP routes per client address.
	API APILimitConfig `yaml:"api"`
}

// APILimitConfig is a per-client token bucket. RequestsPerMin 0 disables it.
// Proxy headers are honoured only from TrustedProxies.
type APILimitConfig struct {
	RequestsPerMin int      `yaml:"requests_per_min"`
	Burst          int      `yaml:"burst"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// SchedulerConfig lists strategies run on a cron schedule.
type SchedulerConfig struct {
	Enabled bool           `yaml:"enabled"`
	Jobs    []ScheduledJob `yaml:"jobs"`
}

// ScheduledJob binds a strategy file to a cron expression.
type ScheduledJob struct {
	Name      string `yaml:"name"`
	Schedule  string `yaml:"schedule"`
	Strategy  string `yaml:"strategy"`
	CallerKey string `yaml:"caller_key"`
	Task      string `yaml:"task"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings. Exporter "file" appends spans as
// JSON to Endpoint.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "noop", "stdout" or "file"
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 samples everything
}

// defaultDataDir returns the persistent data directory under $HOME/.realmforge/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "data")
	}
	return filepath.Join(home, ".realmforge", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:        "openai",
				Type:        "openai",
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 120 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Retry: RetryConfig{
			Retries: 3,
			Delay:   2 * time.Second,
			Backoff: 2.0,
		},
		Ledger: LedgerConfig{
			Path: filepath.Join(dataDir, "ledger.db"),
		},
		Directory: DirectoryConfig{
			ManifestDir:     filepath.Join(dataDir, "agents"),
			DepartmentTools: DefaultDepartmentTools(),
		},
		Tools: ToolsConfig{
			WorkspaceRoot: filepath.Join(dataDir, "workspace"),
		},
		Memory: MemoryConfig{
			Backend:         "sqlite",
			Path:            filepath.Join(dataDir, "memory.db"),
			CacheTTL:        30 * time.Second,
			ContributionLog: filepath.Join(dataDir, "audit", "contributions.jsonl"),
			RecallLimit:     3,
		},
		Telemetry: TelemetryConfig{
			ListenAddr:   "127.0.0.1:8765",
			WriteTimeout: 5 * time.Second,
			API:          APILimitConfig{RequestsPerMin: 120, Burst: 20},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// DefaultDepartmentTools is the built-in silo to tool-set mapping.
func DefaultDepartmentTools() map[string][]string {
	common := []string{"system_clock", "text_metrics"}
	with := func(extra ...string) []string {
		return append(append([]string{}, common...), extra...)
	}
	return map[string][]string{
		"Architect":             with("workspace_list", "workspace_read"),
		"Data_Intelligence":     with("json_extract", "workspace_read"),
		"Software_Engineering":  with("workspace_list", "workspace_read", "workspace_write"),
		"DevOps_Infrastructure": with("workspace_list", "workspace_read", "workspace_write"),
		"Cybersecurity":         with("workspace_list", "workspace_read"),
		"Financial_Ops":         with("json_extract"),
		"Legal_Compliance":      with("workspace_read"),
		"Research_Development":  with("json_extract", "workspace_read"),
		"Executive_Board":       with(),
		"Marketing_PR":          with("workspace_write"),
		"Human_Capital":         with(),
		"Quality_Assurance":     with("json_extract", "workspace_read"),
		"Facility_Management":   with(),
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := finish(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if passphrase := os.Getenv("REALMFORGE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return fmt.Errorf("decrypt secrets: %w", err)
		}
	}
	return Validate(cfg)
}

// ApplyEnvOverrides maps REALMFORGE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REALMFORGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("REALMFORGE_LLM_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}
	if v := os.Getenv("REALMFORGE_LLM_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("REALMFORGE_LLM_TYPE"); v != "" {
		cfg.LLM.Provider.Type = v
	}
	if v := os.Getenv("REALMFORGE_LLM_REQUESTS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("REALMFORGE_RETRY_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Retries = n
		}
	}
	if v := os.Getenv("REALMFORGE_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retry.Delay = d
		}
	}
	if v := os.Getenv("REALMFORGE_BILLING_DEV_MODE"); v == "true" {
		cfg.Billing.DevMode = true
	}
	if v := os.Getenv("REALMFORGE_BILLING_UNMETERED_KEYS"); v != "" {
		cfg.Billing.UnmeteredKeys = splitAndTrim(v, ",")
	}
	if v := os.Getenv("REALMFORGE_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("REALMFORGE_DIRECTORY_MANIFEST_DIR"); v != "" {
		cfg.Directory.ManifestDir = v
	}
	if v := os.Getenv("REALMFORGE_TOOLS_WORKSPACE_ROOT"); v != "" {
		cfg.Tools.WorkspaceRoot = v
	}
	if v := os.Getenv("REALMFORGE_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("REALMFORGE_TELEMETRY_LISTEN_ADDR"); v != "" {
		cfg.Telemetry.ListenAddr = v
	}
	if v := os.Getenv("REALMFORGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("REALMFORGE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("REALMFORGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("REALMFORGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element,
// dropping empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
