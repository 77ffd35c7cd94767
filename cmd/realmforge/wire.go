package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"realmforge/internal/adapter/ledger"
	"realmforge/internal/adapter/llm"
	"realmforge/internal/adapter/memory"
	"realmforge/internal/adapter/observer"
	"realmforge/internal/adapter/tool"
	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
	"realmforge/internal/infra/logger"
	"realmforge/internal/usecase/billing"
	"realmforge/internal/usecase/directory"
	"realmforge/internal/usecase/eventbus"
	"realmforge/internal/usecase/mission"
	"realmforge/internal/usecase/resilience"
)

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	tools     *tool.Registry
	directory *directory.Directory
	ledger    *ledger.SQLiteStore
	meter     *billing.Meter
	memory    domain.SemanticMemory
	engine    *mission.Engine
	out       io.Writer

	closers []func() error
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// buildApp wires the registry, directory, ledger, meter, memory and engine.
// On error everything opened so far is closed.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, out: os.Stdout}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// 1. Telemetry bus
	a.bus = eventbus.New(logger.Component(log, "eventbus"))
	a.bus.Attach(observer.NewLog(log))
	a.onClose(func() error { a.bus.Close(); return nil })

	// 2. Capability registry
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}

	// 3. Agent directory
	a.directory = directory.New(directory.DirSource{Root: cfg.Directory.ManifestDir}, a.tools,
		cfg.Directory.DepartmentTools, a.bus, logger.Component(log, "directory"))

	// 4. Ledger and meter
	a.ledger, err = ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	a.onClose(a.ledger.Close)

	retrier := resilience.NewRetrier(a.bus, logger.Component(log, "resilience"))
	policy := resilience.PolicyFromConfig(cfg.Retry)
	a.meter = billing.NewMeter(a.ledger, retrier, policy, cfg.Billing, a.bus, logger.Component(log, "billing"))

	// 5. Semantic memory
	if err := a.initMemory(); err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}

	// 6. Reasoning engine
	provider, err := llm.NewFromConfig(cfg.LLM, logger.Component(log, "llm"))
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	a.engine = mission.NewEngine(mission.EngineDeps{
		Agents:  a.directory,
		Tools:   a.tools,
		LLM:     resilience.NewProvider(provider, retrier, policy),
		Memory:  a.memory,
		Meter:   a.meter,
		Retrier: retrier,
		Policy:  policy,
		Bus:     a.bus,
		Logger:  log,
	})
	return a, nil
}

func (a *app) initTools(ctx context.Context) error {
	sandbox, err := tool.NewSandbox(a.cfg.Tools.WorkspaceRoot)
	if err != nil {
		return err
	}
	a.tools = tool.NewRegistry(logger.Component(a.log, "arsenal"), a.bus, tool.NewCorePlugin(sandbox))

	for _, p := range tool.ConnectMCP(ctx, a.cfg.Tools.MCPServers, a.log) {
		a.tools.Register(p)
		if c, ok := p.(interface{ Close() error }); ok {
			a.onClose(c.Close)
		}
	}

	_, err = a.tools.Discover(ctx)
	return err
}

func (a *app) initMemory() error {
	var mem domain.SemanticMemory
	switch a.cfg.Memory.Backend {
	case "sqlite":
		store, err := memory.OpenSQLite(a.cfg.Memory.Path, a.cfg.Memory.RecallLimit)
		if err != nil {
			return err
		}
		a.onClose(store.Close)
		mem = store
	case "inmemory":
		mem = memory.NewInMemory(a.cfg.Memory.RecallLimit)
	default:
		mem = memory.Noop{}
	}

	if a.cfg.Memory.CacheTTL > 0 {
		mem = memory.NewCached(mem, a.cfg.Memory.CacheTTL)
	}
	if a.cfg.Memory.ContributionLog != "" {
		logged, err := memory.NewContributionLog(mem, a.cfg.Memory.ContributionLog)
		if err != nil {
			return err
		}
		a.onClose(logged.Close)
		mem = logged
	}
	a.memory = mem
	return nil
}
