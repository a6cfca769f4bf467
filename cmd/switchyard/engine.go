package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/switchyard/internal/catalog"
	"github.com/mattjoyce/switchyard/internal/completion"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/conversation"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/llm"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
	"github.com/mattjoyce/switchyard/internal/scheduler"
	"github.com/mattjoyce/switchyard/internal/session"
	"github.com/mattjoyce/switchyard/internal/state"
	"github.com/mattjoyce/switchyard/internal/storage"
	"github.com/mattjoyce/switchyard/internal/supervisor"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

// engine is everything a dispatch needs, wired from one config.
type engine struct {
	cfg        *config.Config
	db         *sql.DB
	store      *records.SQLStore
	hub        *events.Hub
	catalog    *catalog.Catalog
	sessions   *session.Manager
	workspaces *workspace.GitManager
	applier    *completion.Applier
	// local applies completions in this process. It backs the API's
	// completion endpoint and, with in-process delivery, the dispatcher.
	local     *completion.Channel
	router    *router.Router
	scheduler *scheduler.Scheduler
}

// openStore opens the database for commands that only read or flip flags.
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, *records.SQLStore, error) {
	if err := storage.CheckLocalFilesystem(cfg.Database.Path); err != nil {
		return nil, nil, err
	}
	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
	}
	return db, records.NewSQLStore(db), nil
}

// buildEngine wires the store, catalog, execution strategy, dispatcher,
// router and scheduler. The completion channel is started under ctx.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg, db: db, store: store, hub: events.NewHub(512)}
	fail := func(err error) (*engine, error) {
		_ = db.Close()
		return nil, err
	}

	for _, p := range cfg.Projects {
		if err := store.PutProject(ctx, domain.Project{ID: p.ID, Name: p.Name, RootDir: p.RootDir, MainRepo: p.MainRepo}); err != nil {
			return fail(fmt.Errorf("seed project %s: %w", p.ID, err))
		}
	}

	e.catalog, err = catalog.Discover(cfg.Catalog.Roots, log.WithComponent("catalog"))
	if err != nil {
		return fail(fmt.Errorf("persona discovery: %w", err))
	}
	synced, err := catalog.Sync(ctx, store, e.catalog)
	if err != nil {
		return fail(fmt.Errorf("persona sync: %w", err))
	}
	logger.Info("persona catalog synced", "personas", synced, "roots", cfg.Catalog.Roots)

	e.sessions, err = session.NewManager(cfg.Sessions.Root)
	if err != nil {
		return fail(err)
	}
	e.workspaces = workspace.NewGitManager(cfg.Workspace.Root, cfg.Workspace.BranchPrefix, cfg.Workspace.EnvFiles, nil)

	e.applier = completion.NewApplier(store, e.hub, cfg.Completion.ErrorPatterns, cfg.Completion.PauseTTL)
	deliverer, ch, err := completion.NewDeliverer(cfg.Completion, e.applier)
	if err != nil {
		return fail(err)
	}
	if ch == nil {
		ch = completion.NewChannel(e.applier, 16)
	}
	e.local = ch
	go e.local.Run(ctx)

	strategy, err := newStrategy(cfg, db)
	if err != nil {
		return fail(err)
	}
	d := dispatch.New(e.workspaces, e.sessions, strategy, deliverer, e.applier, e.hub, dispatch.Options{
		Timeout:       cfg.Agent.Timeout,
		ErrorPatterns: cfg.Completion.ErrorPatterns,
	})

	e.router = router.New(store, cooldown.NewFromConfig(cfg.Cooldown), d, e.hub, router.OptionsFromConfig(cfg.Router))
	e.scheduler = scheduler.New(store, e.router, e.hub, scheduler.OptionsFromConfig(cfg.Scheduler), log.WithComponent("scheduler"))
	return e, nil
}

func newStrategy(cfg *config.Config, db *sql.DB) (dispatch.Strategy, error) {
	switch cfg.Agent.Strategy {
	case config.StrategyCLI:
		return dispatch.CLI{Supervisor: supervisor.New(supervisor.OptionsFromConfig(cfg.Agent))}, nil
	case config.StrategyConversation:
		rt := conversation.New(
			llm.NewAnthropicFromConfig(cfg.LLM),
			state.NewHistoryStore(db),
			workspace.ExecRunner{},
			conversation.OptionsFromConfig(cfg.Conversation, cfg.LLM.Model),
		)
		return dispatch.Conversation{Runtime: rt}, nil
	}
	return nil, fmt.Errorf("unknown agent strategy %q", cfg.Agent.Strategy)
}

func (e *engine) Close() error {
	return e.db.Close()
}
