package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"realmforge/internal/adapter/observer"
	"realmforge/internal/domain"
	"realmforge/internal/usecase/directory"
	"realmforge/internal/usecase/mission"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("run", a.out)
	strategyPath := fs.String("strategy", "", "strategy file (YAML or JSON)")
	dept := fs.String("department", domain.DefaultDepartment, "department for a single-step mission")
	action := fs.String("action", "", "action for a single-step mission")
	task := fs.String("task", "", "mission briefing")
	caller := fs.String("caller", "", "caller key billed for the mission")
	asJSON := fs.Bool("json", false, "print the final mission state as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var strategy domain.Strategy
	switch {
	case *strategyPath != "":
		s, err := mission.LoadStrategy(*strategyPath)
		if err != nil {
			return err
		}
		strategy = s
	case *action != "" || *task != "":
		act := *action
		if act == "" {
			act = *task
		}
		strategy = mission.SingleStep(*dept, act)
	default:
		return fmt.Errorf("%w: --strategy or --action is required", domain.ErrInvalidInput)
	}

	state := a.engine.NewMission(ctx, *caller, *task, strategy)
	state, err := a.engine.ExecuteFullStrategy(ctx, state)

	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(state); encErr != nil {
			return errors.Join(err, encErr)
		}
		return err
	}

	fmt.Fprintf(a.out, "Mission %s: %s (%d/%d steps)\n", state.ID, state.Status,
		state.CurrentStep, len(state.Strategy.Steps))
	for _, m := range state.Messages {
		if m.Role != domain.RoleAssistant || m.Name == "" {
			continue
		}
		fmt.Fprintf(a.out, "\n%s\n", m.Content)
	}
	return err
}

func cmdReport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("report", a.out)
	caller := fs.String("caller", "", "caller key")
	records := fs.Int("records", 0, "also list the N most recent usage records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caller == "" {
		return fmt.Errorf("%w: --caller is required", domain.ErrInvalidInput)
	}

	usage, err := a.ledger.UsageReport(ctx, *caller)
	if err != nil {
		return err
	}
	depts := make([]string, 0, len(usage))
	total := 0
	for d, cost := range usage {
		depts = append(depts, d)
		total += cost
	}
	sort.Strings(depts)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPARTMENT\tCREDITS")
	for _, d := range depts {
		fmt.Fprintf(tw, "%s\t%d\n", d, usage[d])
	}
	fmt.Fprintf(tw, "TOTAL\t%d\n", total)
	if err := tw.Flush(); err != nil {
		return err
	}

	switch balance, err := a.ledger.Balance(ctx, *caller); {
	case err == nil:
		fmt.Fprintf(a.out, "\nBalance: %d\n", balance)
	case errors.Is(err, domain.ErrNotFound):
		fmt.Fprintln(a.out, "\nBalance: no account")
	default:
		return err
	}

	if *records <= 0 {
		return nil
	}
	recs, err := a.ledger.Records(ctx, *caller, *records)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out)
	tw = tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMISSION\tAGENT\tDEPARTMENT\tTOKENS\tCOST")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", r.CreatedAt.Format(time.RFC3339),
			r.MissionID, r.AgentID, r.Department, r.Tokens, r.Cost)
	}
	return tw.Flush()
}

func cmdValidate(ctx context.Context, a *app, args []string) error {
	if err := newFlagSet("validate", a.out).Parse(args); err != nil {
		return err
	}
	report, err := a.directory.ValidateWorkforce(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if report.Status != directory.StatusNominal {
		return fmt.Errorf("workforce integrity: %s", report.Status)
	}
	return nil
}

func cmdRoster(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("roster", a.out)
	agents := fs.Bool("agents", false, "list agents instead of tools")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *agents {
		return printAgents(ctx, a)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tTOOL\tARGS\tDESCRIPTION")
	for _, e := range a.tools.Roster() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Category, e.Name, strings.Join(e.Args, ","), e.Description)
	}
	return tw.Flush()
}

func printAgents(ctx context.Context, a *app) error {
	defs, err := a.directory.Discover(ctx, false)
	if err != nil {
		return err
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Department != defs[j].Department {
			return defs[i].Department < defs[j].Department
		}
		return defs[i].Name < defs[j].Name
	})

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEPARTMENT\tID\tNAME\tROLE\tTOOLS")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Department, d.ID, d.Name, d.Role(),
			strings.Join(a.directory.ResolveTools(d, d.Department), ","))
	}
	return tw.Flush()
}

func cmdCredit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("credit", a.out)
	caller := fs.String("caller", "", "caller key")
	amount := fs.Int("amount", 0, "credits to add")
	if err := fs.Parse(args); err != nil {
		return err
	}
	balance, err := a.ledger.Credit(ctx, *caller, *amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s balance: %d\n", *caller, balance)
	return nil
}

func cmdServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve", a.out)
	addr := fs.String("addr", a.cfg.Telemetry.ListenAddr, "telemetry listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	telemetry := a.cfg.Telemetry
	telemetry.ListenAddr = *addr

	var sched *mission.Scheduler
	if a.cfg.Scheduler.Enabled {
		sched = mission.NewScheduler(a.engine, a.log)
		for _, job := range a.cfg.Scheduler.Jobs {
			if err := sched.Add(job); err != nil {
				return err
			}
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	missions := newMissionLauncher(ctx, a)
	defer missions.Wait()

	srv := observer.NewServer(a.bus, telemetry, a.log)
	srv.RegisterHTTPRoute("/api/v1/status", statusHandler(a, srv, sched))
	srv.RegisterHTTPRoute("/api/v1/missions", missions.ServeHTTP)
	return srv.Start(ctx)
}

type statusResponse struct {
	Tools     int                `json:"tools"`
	Agents    directory.Stats    `json:"agents"`
	Observers int                `json:"observers"`
	Clients   int                `json:"clients"`
	Scheduled []scheduledMission `json:"scheduled,omitempty"`
}

type scheduledMission struct {
	Job       string    `json:"job"`
	MissionID string    `json:"mission_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	Finished  time.Time `json:"finished"`
}

func statusHandler(a *app, srv *observer.Server, sched *mission.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := a.directory.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := statusResponse{
			Tools:     a.tools.Len(),
			Agents:    stats,
			Observers: a.bus.Len(),
			Clients:   srv.Clients(),
		}
		if sched != nil {
			for _, res := range sched.Results() {
				sm := scheduledMission{Job: res.Job, MissionID: res.MissionID, Status: string(res.Status), Finished: res.Finished}
				if res.Err != nil {
					sm.Error = res.Err.Error()
				}
				resp.Scheduled = append(resp.Scheduled, sm)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// missionLauncher starts missions submitted over HTTP. Missions run on the
// serve context, not the request's, and report progress on the bus.
type missionLauncher struct {
	ctx context.Context
	a   *app
	wg  sync.WaitGroup
}

func newMissionLauncher(ctx context.Context, a *app) *missionLauncher {
	return &missionLauncher{ctx: ctx, a: a}
}

type launchRequest struct {
	CallerKey string          `json:"caller_key"`
	Task      string          `json:"task"`
	Strategy  domain.Strategy `json:"strategy"`
}

func (l *missionLauncher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req launchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid mission request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Strategy.Steps) == 0 {
		http.Error(w, "strategy has no steps", http.StatusBadRequest)
		return
	}

	state := l.a.engine.NewMission(l.ctx, req.CallerKey, req.Task, req.Strategy)
	id := state.ID
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if _, err := l.a.engine.ExecuteFullStrategy(l.ctx, state); err != nil {
			l.a.log.Warn("submitted mission faulted", "mission_id", id, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"mission_id": id})
}

// Wait blocks until every launched mission has returned.
func (l *missionLauncher) Wait() { l.wg.Wait() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
