// Package billing converts reasoning-engine usage into ledger deductions.
package billing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
	"realmforge/internal/infra/tracer"
	"realmforge/internal/usecase/resilience"
)

// Charge identifies who a reasoning call is billed to.
type Charge struct {
	CallerKey  string
	MissionID  string
	AgentID    string
	Department string
}

// Meter charges callers for reasoning usage. Billing never blocks a mission:
// every failure is logged, broadcast and absorbed.
type Meter struct {
	ledger    domain.LedgerStore
	retrier   *resilience.Retrier
	policy    resilience.Policy
	locker    *KeyLocker
	unmetered map[string]struct{}
	devMode   bool
	bus       domain.TelemetryBus
	logger    *slog.Logger
}

// NewMeter creates a meter. bus may be nil; a nil logger or retrier gets a
// default.
func NewMeter(ledger domain.LedgerStore, retrier *resilience.Retrier, policy resilience.Policy,
	cfg config.BillingConfig, bus domain.TelemetryBus, logger *slog.Logger) *Meter {
	initBillingMetrics()
	if logger == nil {
		logger = slog.Default()
	}
	if retrier == nil {
		retrier = resilience.NewRetrier(bus, logger)
	}
	unmetered := make(map[string]struct{}, len(cfg.UnmeteredKeys))
	for _, k := range cfg.UnmeteredKeys {
		unmetered[k] = struct{}{}
	}
	return &Meter{
		ledger:    ledger,
		retrier:   retrier,
		policy:    policy.WithContext("Billing"),
		locker:    NewKeyLocker(),
		unmetered: unmetered,
		devMode:   cfg.DevMode,
		bus:       bus,
		logger:    logger,
	}
}

// Unmetered reports whether callerKey bypasses billing.
func (m *Meter) Unmetered(callerKey string) bool {
	if m.devMode {
		return true
	}
	_, ok := m.unmetered[callerKey]
	return ok
}

// Track charges one reasoning call and always returns true.
func (m *Meter) Track(ctx context.Context, resp *domain.ChatResponse, ch Charge) (ok bool) {
	ctx, span := tracer.StartSpan(ctx, "billing.track", tracer.MissionAttrs(ch.MissionID, ch.Department))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			m.fail(ctx, ch, fmt.Errorf("billing panic: %v", r))
			ok = true
		}
	}()

	if m.Unmetered(ch.CallerKey) {
		billingBypassed.Add(ctx, 1, metric.WithAttributes(attribute.String("department", ch.Department)))
		m.logger.Debug("billing bypassed", "caller_key", ch.CallerKey, "mission_id", ch.MissionID)
		return true
	}

	usage := domain.ExtractUsage(resp)
	cost := domain.CostForTokens(usage.TotalTokens)
	span.SetAttributes(tracer.IntAttr("billing.tokens", usage.TotalTokens), tracer.IntAttr("billing.cost", cost))

	unlock, err := m.locker.Lock(ctx, ch.CallerKey)
	if err != nil {
		m.fail(ctx, ch, err)
		return true
	}
	defer unlock()

	req := domain.DeductRequest{
		CallerKey:  ch.CallerKey,
		Cost:       cost,
		Tokens:     usage.TotalTokens,
		MissionID:  ch.MissionID,
		AgentID:    ch.AgentID,
		Department: ch.Department,
		Context:    fmt.Sprintf("LLM Reasoning (%d tokens)", usage.TotalTokens),
	}
	deducted, err := resilience.DoValue(ctx, m.retrier, m.policy, func(ctx context.Context) (bool, error) {
		return m.ledger.Deduct(ctx, req)
	})
	if err != nil {
		tracer.RecordError(span, err)
		m.fail(ctx, ch, err)
		return true
	}
	if !deducted {
		m.fail(ctx, ch, domain.NewSubSystemError("ledger", "Meter.Track", domain.ErrLedgerDeduction, "insufficient credits"))
		return true
	}

	creditsDeducted.Add(ctx, int64(cost), metric.WithAttributes(attribute.String("department", ch.Department)))
	m.logger.Debug("credits deducted",
		"caller_key", ch.CallerKey,
		"cost", cost,
		"tokens", usage.TotalTokens,
		"usage_source", usage.Kind.String(),
	)
	tracer.SetOK(span)
	return true
}

// RecordMission appends the completed-mission row for state's caller. The
// row costs nothing; each reasoning call was already charged by Track.
func (m *Meter) RecordMission(ctx context.Context, state *domain.MissionState) {
	if state.CallerKey == "" || m.Unmetered(state.CallerKey) {
		return
	}
	err := m.retrier.Do(ctx, m.policy, func(ctx context.Context) error {
		return m.ledger.RecordTransaction(ctx, state.CallerKey, state.ID,
			state.Vitals.ActiveAgent, state.Vitals.ActiveDepartment, 0)
	})
	if err != nil {
		m.logger.Warn("mission record failed",
			"caller_key", state.CallerKey, "mission_id", state.ID, "error", err)
	}
}

func (m *Meter) fail(ctx context.Context, ch Charge, err error) {
	billingFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("department", ch.Department)))
	m.logger.Warn("billing deduction failed, continuing",
		"caller_key", ch.CallerKey, "mission_id", ch.MissionID, "error", err)
	if m.bus == nil {
		return
	}
	ev := domain.NewDiagnostic(domain.DiagLedgerDeductionFailed,
		fmt.Sprintf("Ledger deduction failed for mission %s: %v", ch.MissionID, err))
	ev.Agent = domain.AgentSystemKernel
	ev.MissionID = ch.MissionID
	ev.Department = ch.Department
	m.bus.Broadcast(ctx, ev)
}
