package observer

import (
	"context"
	"log/slog"

	"realmforge/internal/domain"
)

// Log writes every event to a structured logger. Faults log at Error,
// diagnostics and repairs at Warn, everything else at Info.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a logging observer.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "telemetry")}
}

// ID implements domain.Observer.
func (l *Log) ID() string { return "log" }

// Notify implements domain.Observer. It never fails.
func (l *Log) Notify(ctx context.Context, ev domain.TelemetryEvent) error {
	attrs := []slog.Attr{slog.String("type", string(ev.Type))}
	if ev.MissionID != "" {
		attrs = append(attrs, slog.String("mission_id", ev.MissionID))
	}
	if ev.Agent != "" {
		attrs = append(attrs, slog.String("agent", ev.Agent))
	}
	if ev.Department != "" {
		attrs = append(attrs, slog.String("dept", ev.Department))
	}
	if len(ev.Fields) > 0 {
		attrs = append(attrs, slog.Any("fields", ev.Fields))
	}
	l.logger.LogAttrs(ctx, levelFor(ev.Type), ev.Text, attrs...)
	return nil
}

func levelFor(t domain.EventType) slog.Level {
	switch t {
	case domain.EventTerminalFault, domain.EventMissionFault:
		return slog.LevelError
	case domain.EventDiagnostic, domain.EventRepair:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

var _ domain.Observer = (*Log)(nil)
