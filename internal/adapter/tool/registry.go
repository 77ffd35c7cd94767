package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"realmforge/internal/domain"
	"realmforge/internal/infra/tracer"
)

// snapshot is an immutable view of the discovered capabilities.
type snapshot struct {
	byName     map[string]domain.ToolDescriptor
	names      []string
	byCategory map[string][]domain.ToolDescriptor
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byName:     map[string]domain.ToolDescriptor{},
		byCategory: map[string][]domain.ToolDescriptor{},
	}
}

// Registry aggregates descriptors from plugins and dispatches calls by name.
// Reads go through an atomically swapped snapshot; Discover is serialized.
type Registry struct {
	mu      sync.Mutex
	plugins []domain.Plugin
	snap    atomic.Pointer[snapshot]
	bus     domain.TelemetryBus
	logger  *slog.Logger
}

var _ domain.ToolDispatcher = (*Registry)(nil)

// NewRegistry creates a registry over the given plugins. bus may be nil.
// Call Discover before dispatching.
func NewRegistry(logger *slog.Logger, bus domain.TelemetryBus, plugins ...domain.Plugin) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		plugins: plugins,
		bus:     bus,
		logger:  logger,
	}
	r.snap.Store(emptySnapshot())
	return r
}

// Register adds a plugin. It takes effect on the next Discover.
func (r *Registry) Register(p domain.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Discover rebuilds the capability index from every registered plugin and
// returns the number of indexed tools. The first descriptor seen for a name
// wins. Plugins that fail to load or panic are skipped.
func (r *Registry) Discover(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for _, p := range r.plugins {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if lp, ok := p.(domain.LoadErrorPlugin); ok && lp.LoadErr() != nil {
			r.logger.Warn("capability plugin failed to load, skipping",
				"plugin", p.Name(), "error", lp.LoadErr())
			continue
		}

		descs, err := r.collect(p)
		if err != nil {
			r.logger.Warn("capability plugin discovery failed, skipping",
				"plugin", p.Name(), "error", err)
			continue
		}

		for _, d := range descs {
			if d.Name == "" || d.Invoke == nil {
				r.logger.Warn("ignoring incomplete tool descriptor", "plugin", p.Name(), "tool", d.Name)
				continue
			}
			if _, dup := next.byName[d.Name]; dup {
				r.logger.Warn("duplicate tool name, keeping first registration",
					"plugin", p.Name(), "tool", d.Name)
				continue
			}
			if d.Category == "" {
				d.Category = domain.DefaultToolCategory
			}
			next.byName[d.Name] = d
			next.names = append(next.names, d.Name)
			next.byCategory[d.Category] = append(next.byCategory[d.Category], d)
		}
	}
	sort.Strings(next.names)

	r.snap.Store(next)
	r.logger.Info("capabilities discovered", "tools", len(next.names), "plugins", len(r.plugins))
	return len(next.names), nil
}

func (r *Registry) collect(p domain.Plugin) (descs []domain.ToolDescriptor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panicked: %v", rec)
		}
	}()
	return p.Descriptors(), nil
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (domain.ToolDescriptor, error) {
	d, ok := r.snap.Load().byName[name]
	if !ok {
		return domain.ToolDescriptor{}, domain.NewSubSystemError("registry", "Registry.Get", domain.ErrToolNotFound, name)
	}
	return d, nil
}

// Names returns the sorted tool names of the current snapshot.
func (r *Registry) Names() []string {
	names := r.snap.Load().names
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Len returns the number of indexed tools.
func (r *Registry) Len() int { return len(r.snap.Load().names) }

// GroupByCategory returns descriptors grouped by category, each group sorted
// by name.
func (r *Registry) GroupByCategory() map[string][]domain.ToolDescriptor {
	s := r.snap.Load()
	out := make(map[string][]domain.ToolDescriptor, len(s.byCategory))
	for cat, descs := range s.byCategory {
		group := make([]domain.ToolDescriptor, len(descs))
		copy(group, descs)
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		out[cat] = group
	}
	return out
}

// RosterEntry is the display form of one tool.
type RosterEntry struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Args        []string `json:"args"`
}

// Roster lists every tool ordered by category, then name.
func (r *Registry) Roster() []RosterEntry {
	s := r.snap.Load()
	out := make([]RosterEntry, 0, len(s.names))
	for _, name := range s.names {
		d := s.byName[name]
		out = append(out, RosterEntry{Name: d.Name, Category: d.Category, Description: d.Description, Args: d.Parameters})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Dispatch invokes the named tool. Failures are reported in the outcome;
// Dispatch never panics.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) domain.DispatchOutcome {
	ctx, span := tracer.StartSpan(ctx, "tool.dispatch")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("tool.name", name))

	d, ok := r.snap.Load().byName[name]
	if !ok {
		r.logger.Warn("dispatch to unknown tool", "tool", name)
		out := domain.DispatchOutcome{Status: domain.OutcomeToolNotFound, Tool: name}
		tracer.RecordError(span, out.Err())
		return out
	}

	r.announce(ctx, d)

	result, err := r.invoke(ctx, d, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		out := domain.DispatchOutcome{Status: domain.OutcomeToolExecutionFailed, Tool: name, Message: err.Error()}
		tracer.RecordError(span, out.Err())
		return out
	}

	tracer.SetOK(span)
	return domain.DispatchOutcome{Status: domain.OutcomeOK, Tool: name, Result: stringify(result)}
}

func (r *Registry) invoke(ctx context.Context, d domain.ToolDescriptor, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return d.Invoke(ctx, args)
}

func (r *Registry) announce(ctx context.Context, d domain.ToolDescriptor) {
	if r.bus == nil {
		return
	}
	inv := domain.InvokerFromContext(ctx)
	agent := inv.Agent
	if agent == "" {
		agent = domain.AgentSystemKernel
	}
	ev := domain.NewEvent(domain.EventToolInvocation, fmt.Sprintf("%s triggered arsenal tool: %s", agent, d.Name))
	ev.Agent = agent
	ev.Department = inv.Department
	ev.MissionID = inv.MissionID
	ev.Fields = map[string]any{"tool": d.Name, "category": d.Category}
	r.bus.Broadcast(ctx, ev)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
