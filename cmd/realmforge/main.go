package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"realmforge/internal/infra/config"
	"realmforge/internal/infra/logger"
	"realmforge/internal/infra/tracer"
)

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"run":      cmdRun,
	"report":   cmdReport,
	"validate": cmdValidate,
	"roster":   cmdRoster,
	"serve":    cmdServe,
	"credit":   cmdCredit,
}

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	name := os.Args[1]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'realmforge --help' for usage information.\n", name)
		os.Exit(2)
	}
	if err := execute(name, cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`realmforge - mission orchestration engine

USAGE:
    realmforge COMMAND [FLAGS]

COMMANDS:
    run         Execute a mission strategy
                Flags: --strategy FILE | --department NAME --action TEXT,
                       --task TEXT, --caller KEY, --json
    report      Print usage per department for a caller
                Flags: --caller KEY, --records N
    validate    Audit every agent manifest against the registry
    roster      List available tools by category
                Flags: --agents (list agents with role and tools)
    serve       Run the telemetry endpoint and the mission scheduler
    credit      Top up a caller balance
                Flags: --caller KEY, --amount N

GLOBAL FLAGS:
    --config PATH      Config file (default: ./config.yaml)

CONFIGURATION:
    Environment: REALMFORGE_* variables override config
    REALMFORGE_CONFIG_KEY decrypts "enc:" secrets`)
}

// configPath finds --config in args, then REALMFORGE_CONFIG, then ./config.yaml.
// The returned args have the --config flag removed.
func configPath(args []string) (string, []string) {
	path := os.Getenv("REALMFORGE_CONFIG")
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			path = strings.TrimPrefix(args[i], "--config=")
		default:
			rest = append(rest, args[i])
		}
	}
	if path == "" {
		path = "config.yaml"
	}
	return path, rest
}

func execute(name string, cmd command, args []string) error {
	// 1. Config
	cfgPath, args := configPath(args)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	// 3. Components
	a, err := buildApp(ctx, cfg, log.With("command", name))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	return cmd(ctx, a, args)
}
