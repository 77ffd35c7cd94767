// Package directory discovers specialist manifests and binds agents to the
// tools they are allowed to use.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"realmforge/internal/domain"
)

// ToolCatalog is the registry view the directory needs.
type ToolCatalog interface {
	Names() []string
}

// Stats summarizes the current snapshot.
type Stats struct {
	Agents       int            `json:"agents"`
	Malformed    int            `json:"malformed"`
	ByDepartment map[string]int `json:"by_department"`
}

type brokenManifest struct {
	origin string
	err    error
}

type snapshot struct {
	defs   []domain.AgentDefinition
	byDept map[string][]domain.AgentDefinition
	broken []brokenManifest
	raw    map[string][]byte // origin -> document, for integrity audits
}

// Directory caches agent definitions behind an atomically swapped snapshot.
type Directory struct {
	source    ManifestSource
	catalog   ToolCatalog
	deptTools map[string][]string
	bus       domain.TelemetryBus
	logger    *slog.Logger

	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a directory. deptTools maps silo names to their default tool
// sets; bus may be nil.
func New(source ManifestSource, catalog ToolCatalog, deptTools map[string][]string,
	bus domain.TelemetryBus, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		source:    source,
		catalog:   catalog,
		deptTools: deptTools,
		bus:       bus,
		logger:    logger,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source used by RandomFromDepartment.
func (d *Directory) WithRand(r *rand.Rand) *Directory {
	d.rngMu.Lock()
	d.rng = r
	d.rngMu.Unlock()
	return d
}

// Discover returns the cached definitions, loading them on first use or when
// forceReload is set.
func (d *Directory) Discover(ctx context.Context, forceReload bool) ([]domain.AgentDefinition, error) {
	s, err := d.current(ctx, forceReload)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgentDefinition, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

func (d *Directory) current(ctx context.Context, forceReload bool) (*snapshot, error) {
	if s := d.snap.Load(); s != nil && !forceReload {
		return s, nil
	}

	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	// Another caller may have loaded while we waited.
	if s := d.snap.Load(); s != nil && !forceReload {
		return s, nil
	}

	s, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	d.snap.Store(s)
	return s, nil
}

func (d *Directory) load(ctx context.Context) (*snapshot, error) {
	raws, err := d.source.Load(ctx)
	if err != nil {
		return nil, domain.WrapOp("Directory.Discover", err)
	}

	s := &snapshot{
		byDept: make(map[string][]domain.AgentDefinition),
		raw:    make(map[string][]byte, len(raws)),
	}
	for _, raw := range raws {
		def, err := parseManifest(raw)
		if err != nil {
			s.broken = append(s.broken, brokenManifest{origin: raw.Origin, err: err})
			d.logger.Warn("skipping malformed manifest", "origin", raw.Origin, "error", err)
			d.diagnose(ctx, raw.Origin, err)
			continue
		}
		s.raw[raw.Origin] = raw.Data
		s.defs = append(s.defs, def)
		s.byDept[def.Department] = append(s.byDept[def.Department], def)
	}

	d.logger.Info("agent directory loaded", "agents", len(s.defs), "malformed", len(s.broken))
	return s, nil
}

func (d *Directory) diagnose(ctx context.Context, origin string, err error) {
	if d.bus == nil {
		return
	}
	ev := domain.NewDiagnostic(domain.DiagManifestMalformed, fmt.Sprintf("Manifest %s rejected: %v", origin, err))
	ev.Agent = domain.AgentSystemKernel
	d.bus.Broadcast(ctx, ev)
}

// Stats reports counts for the current snapshot, loading it if needed.
func (d *Directory) Stats(ctx context.Context) (Stats, error) {
	s, err := d.current(ctx, false)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Agents: len(s.defs), Malformed: len(s.broken), ByDepartment: countByDept(s)}, nil
}

// ByDepartment returns the agent count per silo.
func (d *Directory) ByDepartment(ctx context.Context) (map[string]int, error) {
	s, err := d.current(ctx, false)
	if err != nil {
		return nil, err
	}
	return countByDept(s), nil
}

func countByDept(s *snapshot) map[string]int {
	out := make(map[string]int, len(s.byDept))
	for dept, defs := range s.byDept {
		out[dept] = len(defs)
	}
	return out
}

// ResolveTools returns the sorted union of the department defaults and the
// manifest's own assignments, restricted to tools the catalog knows.
func (d *Directory) ResolveTools(def domain.AgentDefinition, dept string) []string {
	known := make(map[string]struct{})
	for _, n := range d.catalog.Names() {
		known[n] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if _, ok := known[n]; !ok {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	add(d.deptTools[dept])
	add(def.Manifest.Professional.ToolsAssigned)
	sort.Strings(out)
	return out
}

// Instantiate binds the agent whose name matches case-insensitively.
func (d *Directory) Instantiate(ctx context.Context, name string) (*domain.AgentInstance, error) {
	s, err := d.current(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, def := range s.defs {
		if strings.EqualFold(def.Name, name) {
			return d.bind(def), nil
		}
	}
	return nil, domain.NewSubSystemError("directory", "Directory.Instantiate", domain.ErrAgentUnavailable, name)
}

// RandomFromDepartment binds a uniformly chosen agent from the silo.
func (d *Directory) RandomFromDepartment(ctx context.Context, dept string) (*domain.AgentInstance, error) {
	s, err := d.current(ctx, false)
	if err != nil {
		return nil, err
	}
	dept = NormalizeDepartment(dept)
	pool := s.byDept[dept]
	if len(pool) == 0 {
		return nil, domain.NewSubSystemError("directory", "Directory.RandomFromDepartment", domain.ErrAgentUnavailable, dept)
	}

	d.rngMu.Lock()
	def := pool[d.rng.Intn(len(pool))]
	d.rngMu.Unlock()

	return d.bind(def), nil
}

func (d *Directory) bind(def domain.AgentDefinition) *domain.AgentInstance {
	return domain.NewAgentInstance(def, d.ResolveTools(def, def.Department))
}
