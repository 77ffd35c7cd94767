package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateRetry(cfg, ve)
	validateLedger(cfg, ve)
	validateDirectory(cfg, ve)
	validateTools(cfg, ve)
	validateMemory(cfg, ve)
	validateTelemetry(cfg, ve)
	validateTracer(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLLM(cfg *Config, ve *ValidationError) {
	p := cfg.LLM.Provider
	switch p.Type {
	case "openai":
		if p.BaseURL == "" {
			ve.Add("llm.provider.base_url is required for type openai")
		}
		if p.Model == "" {
			ve.Add("llm.provider.model is required for type openai")
		}
	case "scripted":
	default:
		ve.Add("llm.provider.type %q is not supported (want openai or scripted)", p.Type)
	}
	if cfg.LLM.RateLimit.RequestsPerMin < 0 {
		ve.Add("llm.rate_limit.requests_per_min must be >= 0")
	}
	if cfg.LLM.RateLimit.Burst < 0 {
		ve.Add("llm.rate_limit.burst must be >= 0")
	}
}

func validateRetry(cfg *Config, ve *ValidationError) {
	if cfg.Retry.Retries < 1 {
		ve.Add("retry.retries must be >= 1")
	}
	if cfg.Retry.Delay < 0 {
		ve.Add("retry.delay must be >= 0")
	}
	if cfg.Retry.Backoff < 1 {
		ve.Add("retry.backoff must be >= 1")
	}
}

func validateLedger(cfg *Config, ve *ValidationError) {
	if cfg.Ledger.Path == "" {
		ve.Add("ledger.path is required")
	}
}

func validateDirectory(cfg *Config, ve *ValidationError) {
	if cfg.Directory.ManifestDir == "" {
		ve.Add("directory.manifest_dir is required")
	}
	for dept := range cfg.Directory.DepartmentTools {
		if !knownDepartment(dept) {
			ve.Add("directory.department_tools: unknown department %q", dept)
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, srv := range cfg.Tools.MCPServers {
		if srv.Name == "" {
			ve.Add("tools.mcp_servers[%d].name is required", i)
		} else if seen[srv.Name] {
			ve.Add("tools.mcp_servers[%d]: duplicate name %q", i, srv.Name)
		}
		seen[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("tools.mcp_servers[%d].command is required for stdio", i)
			}
		case "http":
			if srv.URL == "" {
				ve.Add("tools.mcp_servers[%d].url is required for http", i)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q is not supported", i, srv.Transport)
		}
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	switch cfg.Memory.Backend {
	case "inmemory", "noop":
	case "sqlite":
		if cfg.Memory.Path == "" {
			ve.Add("memory.path is required for the sqlite backend")
		}
	default:
		ve.Add("memory.backend %q is not supported (want inmemory, sqlite or noop)", cfg.Memory.Backend)
	}
	if cfg.Memory.RecallLimit < 0 {
		ve.Add("memory.recall_limit must be >= 0")
	}
	if cfg.Memory.CacheTTL < 0 {
		ve.Add("memory.cache_ttl must be >= 0")
	}
}

func validateTelemetry(cfg *Config, ve *ValidationError) {
	if api := cfg.Telemetry.API; api.RequestsPerMin < 0 || api.Burst < 0 {
		ve.Add("telemetry.api: requests_per_min and burst must not be negative")
	}
	if cfg.Telemetry.ListenAddr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Telemetry.ListenAddr); err != nil {
		ve.Add("telemetry.listen_addr %q: %v", cfg.Telemetry.ListenAddr, err)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint is required for the file exporter")
		}
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
	if r := cfg.Tracer.SampleRatio; r < 0 || r > 1 {
		ve.Add("tracer.sample_ratio %v must be within [0, 1]", r)
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, job := range cfg.Scheduler.Jobs {
		if job.Strategy == "" {
			ve.Add("scheduler.jobs[%d].strategy is required", i)
		}
		if _, err := parser.Parse(job.Schedule); err != nil {
			if d, derr := time.ParseDuration(job.Schedule); derr != nil || d <= 0 {
				ve.Add("scheduler.jobs[%d].schedule %q: %v", i, job.Schedule, err)
			}
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not supported (want text or json)", cfg.Logger.Format)
	}
}

func knownDepartment(name string) bool {
	for dept := range DefaultDepartmentTools() {
		if dept == name {
			return true
		}
	}
	return false
}
