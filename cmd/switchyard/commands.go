package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/switchyard/internal/api"
	"github.com/mattjoyce/switchyard/internal/catalog"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/doctor"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/inspect"
	"github.com/mattjoyce/switchyard/internal/lock"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
	"github.com/mattjoyce/switchyard/internal/scheduler"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/mattjoyce/switchyard/internal/tui/watch"
	"github.com/mattjoyce/switchyard/internal/webhook"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("switchyard starting", "version", version, "config", cfg.SourcePath, "strategy", cfg.Agent.Strategy)

	lockPath := lock.PathIn(cfg.Service.StateDir)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer e.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	if cfg.Catalog.Watch && len(cfg.Catalog.Roots) > 0 {
		watcher := catalog.NewWatcher(cfg.Catalog.Roots, e.store, log.Get())
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("catalog watcher: %w", err)
			}
		}()
		logger.Info("persona catalog watch enabled", "roots", cfg.Catalog.Roots)
	}

	if cfg.Scheduler.Enabled {
		if err := e.scheduler.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			return 1
		}
		defer e.scheduler.Stop()
	}

	if cfg.API.Enabled {
		apiServer := api.New(api.ConfigFrom(cfg.API), api.Deps{
			Store:     e.store,
			Router:    e.router,
			Completer: e.local,
			Sweeper:   e.scheduler,
			Sessions:  e.sessions,
			Events:    e.hub,
		}, log.Get())
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig := webhook.ConfigFrom(cfg.Webhooks)
		webhookServer := webhook.New(webhookConfig, e.router, log.Get())
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("switchyard running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("switchyard stopped")
	return 0
}

type statusReport struct {
	Healthy  bool               `json:"healthy"`
	Config   string             `json:"config"`
	Database string             `json:"database"`
	Running  bool               `json:"running"`
	PID      int                `json:"pid,omitempty"`
	Pause    records.PauseState `json:"pause"`
	Errors   []string           `json:"errors,omitempty"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		report.Healthy = false
		report.Errors = append(report.Errors, "config: "+err.Error())
		return printStatus(report, *jsonOut)
	}
	report.Config = cfg.SourcePath
	report.Database = cfg.Database.Path

	lockPath := lock.PathIn(cfg.Service.StateDir)
	if held, err := lock.Held(lockPath); err != nil {
		report.Errors = append(report.Errors, "lock: "+err.Error())
	} else if held {
		report.Running = true
		report.PID, _ = lock.Holder(lockPath)
	}

	ctx := context.Background()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		report.Healthy = false
		report.Errors = append(report.Errors, "database: "+err.Error())
		return printStatus(report, *jsonOut)
	}
	defer db.Close()

	report.Pause, err = store.PauseState(ctx)
	if err != nil {
		report.Healthy = false
		report.Errors = append(report.Errors, "database: "+err.Error())
	}
	return printStatus(report, *jsonOut)
}

func printStatus(r statusReport, jsonOut bool) int {
	code := 0
	if !r.Healthy {
		code = 1
	}
	if jsonOut {
		data, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(data))
		return code
	}

	state := "stopped"
	if r.Running {
		state = fmt.Sprintf("running (pid %d)", r.PID)
	}
	fmt.Printf("Config   : %s\n", orUnset(r.Config))
	fmt.Printf("Database : %s\n", orUnset(r.Database))
	fmt.Printf("Process  : %s\n", state)
	if r.Pause.Paused {
		fmt.Printf("Dispatch : PAUSED since %s (%s)\n", r.Pause.Since.Local().Format(time.RFC3339), r.Pause.Reason)
		if r.Pause.Until != nil {
			fmt.Printf("           lifts at %s\n", r.Pause.Until.Local().Format(time.RFC3339))
		}
	} else {
		fmt.Printf("Dispatch : active\n")
	}
	for _, e := range r.Errors {
		fmt.Printf("ERROR    : %s\n", e)
	}
	return code
}

func orUnset(s string) string {
	if s == "" {
		return "<unknown>"
	}
	return s
}

func runSystemPause(args []string) int {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	reason := fs.String("reason", "paused from the command line", "Why dispatching is paused")
	ttl := fs.Duration("for", 0, "Lift the pause automatically after this long")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	var until *time.Time
	if *ttl > 0 {
		u := time.Now().Add(*ttl).UTC()
		until = &u
	}
	if err := store.Pause(ctx, *reason, until); err != nil {
		fmt.Fprintf(os.Stderr, "Pause failed: %v\n", err)
		return 1
	}
	fmt.Printf("Dispatching paused: %s\n", *reason)
	return 0
}

func runSystemResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := store.Resume(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		return 1
	}
	fmt.Println("Dispatching resumed")
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	format := fs.String("format", "human", "Output format: human or json")
	jsonOut := fs.Bool("json", false, "Shorthand for --format json")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *jsonOut {
		*format = "json"
	}
	if *format != "human" && *format != "json" {
		fmt.Fprintf(os.Stderr, "Unknown format %q (expected human or json)\n", *format)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	cat, err := catalog.Discover(cfg.Catalog.Roots, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Persona discovery failed: %v\n", err)
	}
	result := doctor.New(cfg, cat).Validate()
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, doctor.Issue{Category: "personas", Field: "catalog.roots", Message: err.Error()})
	}

	if *format == "json" {
		out, ferr := doctor.FormatJSON(result)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", ferr)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "config.yaml")
	}

	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	files := make([]string, 0, len(manifest.Hashes))
	for f := range manifest.Hashes {
		files = append(files, f)
	}
	sort.Strings(files)
	for _, f := range files {
		fmt.Printf("%s  %s\n", manifest.Hashes[f][:16], f)
	}
	fmt.Printf("Wrote %s\n", config.ChecksumPath(path))
	return 0
}

func runSessionInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(interspersed(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchyard session inspect <dir|ticket-key> [--json]")
		return 1
	}
	target := fs.Arg(0)

	root := ""
	if _, err := os.Stat(filepath.Join(target, session.EventsFile)); err != nil {
		cfg, cerr := loadConfig(*configPath)
		if cerr != nil {
			fmt.Fprintf(os.Stderr, "Load error: %v\n", cerr)
			return 1
		}
		root = cfg.Sessions.Root
	}

	dir, err := inspect.Resolve(root, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(dir)
	} else {
		out, err = inspect.BuildReport(dir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Print(strings.TrimRight(out, "\n") + "\n")
	return 0
}

// withEngine runs fn against a locally wired engine. It holds the PID lock
// so a one-shot command never races a running server.
func withEngine(configPath string, fn func(ctx context.Context, e *engine) int) int {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	log.Setup("warn")

	pidLock, err := lock.Acquire(lock.PathIn(cfg.Service.StateDir))
	if errors.Is(err, lock.ErrLocked) {
		fmt.Fprintf(os.Stderr, "Error: %v; use the HTTP API of the running server instead\n", err)
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(ctx, cfg, log.WithComponent("main"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer e.Close()
	return fn(ctx, e)
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the sweep report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	return withEngine(*configPath, func(ctx context.Context, e *engine) int {
		rep := e.scheduler.Sweep(ctx)
		if *jsonOut {
			data, _ := json.MarshalIndent(rep, "", "  ")
			fmt.Println(string(data))
		} else {
			printSweep(rep)
		}
		if rep.Failed > 0 {
			return 1
		}
		return 0
	})
}

func printSweep(rep scheduler.SweepReport) {
	if rep.Skipped != "" {
		fmt.Printf("Sweep skipped: %s\n", rep.Skipped)
		return
	}
	fmt.Printf("Sweep: %d selected, %d dispatched, %d failed in %s\n",
		rep.Selected, rep.Dispatched, rep.Failed, rep.Duration.Round(time.Millisecond))
	for _, it := range rep.Items {
		result := strings.Join(it.Personas, ", ")
		switch {
		case it.Error != "":
			result = "failed: " + it.Error
		case it.Skipped != "":
			result = "skipped: " + it.Skipped
		}
		fmt.Printf("  %-14s %-16s %s\n", it.Pass, it.TicketKey, result)
	}
}

type dispatchView struct {
	TicketID string         `json:"ticketId"`
	Phase    domain.Phase   `json:"phase"`
	Skipped  string         `json:"skipped,omitempty"`
	Detail   string         `json:"detail,omitempty"`
	Targets  []dispatchLine `json:"targets"`
}

type dispatchLine struct {
	PersonaID    string         `json:"personaId"`
	DocumentType domain.DocType `json:"documentType,omitempty"`
	Skipped      string         `json:"skipped,omitempty"`
	Outcome      string         `json:"outcome,omitempty"`
	SessionDir   string         `json:"sessionDir,omitempty"`
	Version      int            `json:"version,omitempty"`
	Error        string         `json:"error,omitempty"`
}

func runDispatch(args []string) int {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	personaID := fs.String("persona", "", "Persona id")
	mention := fs.String("mention", "", "Persona name")
	roleName := fs.String("role", "", "Persona role")
	broadcast := fs.Bool("broadcast", false, "Dispatch to every role of the phase")
	kindName := fs.String("kind", "", "auto, mention or urgent")
	message := fs.String("message", "", "Text quoted in the brief")
	jsonOut := fs.Bool("json", false, "Output the outcome as JSON")
	if err := fs.Parse(interspersed(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchyard dispatch <ticket-id|key> [flags]")
		return 1
	}

	trig, err := cliTrigger(*personaID, *mention, *roleName, *kindName, *message, *broadcast)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return withEngine(*configPath, func(ctx context.Context, e *engine) int {
		ticket, err := findTicket(ctx, e.store, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		out, err := e.router.Dispatch(ctx, ticket.ID, trig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Dispatch failed: %v\n", err)
			return 1
		}
		view := viewOutcome(out)
		if *jsonOut {
			data, _ := json.MarshalIndent(view, "", "  ")
			fmt.Println(string(data))
		} else {
			printDispatch(view)
		}
		for _, t := range view.Targets {
			if t.Error != "" {
				return 1
			}
		}
		return 0
	})
}

// cliTrigger builds a trigger from flags. Naming a persona makes the
// dispatch a mention unless --kind says otherwise.
func cliTrigger(personaID, mention, roleName, kindName, message string, broadcast bool) (router.Trigger, error) {
	trig := router.Trigger{
		PersonaID: strings.TrimSpace(personaID),
		Mention:   strings.TrimSpace(mention),
		Broadcast: broadcast,
		Message:   message,
		Kind:      cooldown.Auto,
		Source:    "cli",
	}
	if trig.PersonaID != "" || trig.Mention != "" {
		trig.Kind = cooldown.Mention
	}
	if kindName != "" {
		k, err := cooldown.ParseKind(kindName)
		if err != nil {
			return router.Trigger{}, err
		}
		trig.Kind = k
	}
	if roleName != "" {
		r, err := domain.ParseRole(roleName)
		if err != nil {
			return router.Trigger{}, err
		}
		trig.Role = r
	}
	return trig, nil
}

func findTicket(ctx context.Context, store *records.SQLStore, ref string) (domain.Ticket, error) {
	t, err := store.Ticket(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		t, err = store.TicketByKey(ctx, ref)
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("ticket %q: %w", ref, err)
	}
	return t, nil
}

func viewOutcome(out router.Outcome) dispatchView {
	v := dispatchView{TicketID: out.TicketID, Phase: out.Phase, Skipped: string(out.Skipped), Detail: out.Detail, Targets: []dispatchLine{}}
	for _, t := range out.Targets {
		line := dispatchLine{
			PersonaID:    t.Persona.ID,
			DocumentType: t.DocumentType,
			Skipped:      string(t.Skipped),
			Outcome:      t.Outcome,
			SessionDir:   t.SessionDir,
			Version:      t.Applied.Version,
		}
		if t.Err != nil {
			line.Error = t.Err.Error()
		}
		v.Targets = append(v.Targets, line)
	}
	return v
}

func printDispatch(v dispatchView) {
	if v.Skipped != "" {
		fmt.Printf("Skipped (%s): %s\n", v.Skipped, v.Detail)
		return
	}
	fmt.Printf("Ticket %s (%s phase)\n", v.TicketID, v.Phase)
	for _, t := range v.Targets {
		switch {
		case t.Skipped != "":
			fmt.Printf("  %-12s skipped: %s\n", t.PersonaID, t.Skipped)
		case t.Error != "":
			fmt.Printf("  %-12s %s: %s\n", t.PersonaID, t.Outcome, t.Error)
		case t.DocumentType != "":
			fmt.Printf("  %-12s %s %s v%d\n", t.PersonaID, t.Outcome, t.DocumentType, t.Version)
		default:
			fmt.Printf("  %-12s %s reply\n", t.PersonaID, t.Outcome)
		}
		if t.SessionDir != "" {
			fmt.Printf("  %-12s session %s\n", "", t.SessionDir)
		}
	}
}

func runShip(args []string) int {
	fs := flag.NewFlagSet("ship", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(interspersed(args)); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: switchyard ship <ticket-key> [--config PATH]")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	ctx := context.Background()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	ticket, err := findTicket(ctx, store, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	project, err := store.Project(ctx, ticket.ProjectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: project %q: %v\n", ticket.ProjectID, err)
		return 1
	}

	ws := workspace.NewGitManager(cfg.Workspace.Root, cfg.Workspace.BranchPrefix, cfg.Workspace.EnvFiles, nil)
	res, err := ws.Ship(ctx, project, ticket.Key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ship failed: %v\n", err)
		return 1
	}
	switch {
	case res.Recovered:
		fmt.Printf("%s: recovered files from a corrupted worktree %s\n", ticket.Key, res.Commit)
	case !res.Merged:
		fmt.Printf("%s: nothing to ship\n", ticket.Key)
	default:
		fmt.Printf("%s: merged %s\n", ticket.Key, res.Commit)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8411", "API URL")
	apiKey := fs.String("api-key", os.Getenv("SWITCHYARD_API_KEY"), "Bearer token with the read scope")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or SWITCHYARD_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
