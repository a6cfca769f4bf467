// Package scheduler runs the periodic sweep: three candidate passes, a fair
// round-robin draw across projects, and dispatch in fixed-size batches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/events"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
)

// candidateLimit bounds each pass query. It is larger than any sane
// per-sweep cap so the round-robin draw sees every project.
const candidateLimit = 500

type Options struct {
	Interval    time.Duration
	MaxPerSweep int
	MaxInFlight int
	QuietPeriod time.Duration
	Passes      []string
}

func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Interval:    cfg.Interval,
		MaxPerSweep: cfg.MaxPerSweep,
		MaxInFlight: cfg.MaxInFlight,
		QuietPeriod: cfg.QuietPeriod,
		Passes:      cfg.Passes,
	}
}

// Item is one ticket selected by a pass.
type Item struct {
	Pass   string
	Ticket domain.Ticket
	// Role is set by the research pass, which alternates author and reviewer.
	Role domain.Role
}

// ItemReport is what happened to one selected ticket.
type ItemReport struct {
	TicketID  string   `json:"ticketId"`
	TicketKey string   `json:"ticketKey"`
	ProjectID string   `json:"projectId"`
	Pass      string   `json:"pass"`
	Personas  []string `json:"personas,omitempty"`
	Skipped   string   `json:"skipped,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Skipped    string        `json:"skipped,omitempty"`
	Selected   int           `json:"selected"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Items      []ItemReport  `json:"items,omitempty"`
}

// Scheduler owns all sweeps. Only one sweep runs at a time.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	events     events.Publisher
	opts       Options
	now        func() time.Time
	logger     *slog.Logger

	sweepMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil logger uses the package default.
func New(store Store, d Dispatcher, pub events.Publisher, opts Options, logger *slog.Logger) *Scheduler {
	if pub == nil {
		pub = events.Discard{}
	}
	if logger == nil {
		logger = log.Get()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if len(opts.Passes) == 0 {
		opts.Passes = []string{config.PassResearch, config.PassPlanning, config.PassImplementation}
	}
	return &Scheduler{
		store:      store,
		dispatcher: d,
		events:     pub,
		opts:       opts,
		now:        time.Now,
		logger:     logger.With("component", "scheduler"),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.logger.Info("starting scheduler", "interval", s.opts.Interval, "passes", s.opts.Passes,
		"max_per_sweep", s.opts.MaxPerSweep, "max_in_flight", s.opts.MaxInFlight)
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	return nil
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()

	s.Sweep(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping sweep loop")
			return
		}
	}
}

// Sweep runs every enabled pass once. Dispatch failures never abort it.
func (s *Scheduler) Sweep(ctx context.Context) (report SweepReport) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	report = SweepReport{StartedAt: s.now().UTC()}
	defer func() { report.Duration = s.now().Sub(report.StartedAt) }()

	pause, err := s.store.PauseState(ctx)
	if err != nil {
		s.logger.Error("pause state unreadable, skipping sweep", "error", err)
		report.Skipped = "pause state unreadable: " + err.Error()
		s.events.Publish(events.SchedulerSkipped, map[string]any{"reason": report.Skipped})
		return report
	}
	if pause.Paused {
		report.Skipped = "paused: " + pause.Reason
		s.logger.Info("sweep skipped, system paused", "reason", pause.Reason)
		s.events.Publish(events.SchedulerSkipped, map[string]any{"reason": "paused", "detail": pause.Reason})
		return report
	}

	s.events.Publish(events.SchedulerSweepStarted, map[string]any{"at": report.StartedAt})

	items := s.collect(ctx)
	selected := roundRobin(items, s.opts.MaxPerSweep)
	report.Selected = len(selected)
	report.Items = make([]ItemReport, len(selected))

	for start := 0; start < len(selected); start += s.opts.MaxInFlight {
		if ctx.Err() != nil {
			break
		}
		end := min(start+s.opts.MaxInFlight, len(selected))
		s.runBatch(ctx, selected[start:end], report.Items[start:end])
	}

	for _, it := range report.Items {
		switch {
		case it.Error != "":
			report.Failed++
		case it.Skipped == "" && len(it.Personas) > 0:
			report.Dispatched++
		}
	}
	s.logger.Info("sweep completed", "selected", report.Selected, "dispatched", report.Dispatched, "failed", report.Failed)
	s.events.Publish(events.SchedulerSweepCompleted, map[string]any{
		"selected":   report.Selected,
		"dispatched": report.Dispatched,
		"failed":     report.Failed,
	})
	return report
}

// collect runs the enabled passes. A failing pass is logged and skipped.
func (s *Scheduler) collect(ctx context.Context) []Item {
	var items []Item
	seen := make(map[string]bool)
	add := func(it Item) {
		if !seen[it.Ticket.ID] {
			seen[it.Ticket.ID] = true
			items = append(items, it)
		}
	}

	for _, pass := range s.opts.Passes {
		var (
			cands []records.Candidate
			err   error
		)
		switch pass {
		case config.PassResearch:
			cands, err = s.store.ResearchCandidates(ctx, candidateLimit)
		case config.PassPlanning:
			cands, err = s.store.PlanningCandidates(ctx, candidateLimit)
		case config.PassImplementation:
			cands, err = s.store.ImplementationCandidates(ctx, s.now().Add(-s.opts.QuietPeriod), candidateLimit)
		default:
			s.logger.Warn("unknown pass ignored", "pass", pass)
			continue
		}
		if err != nil {
			s.logger.Error("candidate query failed", "pass", pass, "error", err)
			continue
		}

		for _, c := range cands {
			it := Item{Pass: pass, Ticket: c.Ticket}
			if pass == config.PassResearch {
				role, ok := domain.ResearchRole(c.MaxResearchVersion)
				if !ok {
					continue
				}
				it.Role = role
			}
			add(it)
		}
		s.logger.Debug("pass collected", "pass", pass, "candidates", len(cands))
	}
	return items
}

// roundRobin draws at most one item per project per round, projects in
// sorted order, until limit items are drawn or every queue is empty. A
// non-positive limit draws everything.
func roundRobin(items []Item, limit int) []Item {
	queues := make(map[string][]Item)
	var projects []string
	for _, it := range items {
		p := it.Ticket.ProjectID
		if _, ok := queues[p]; !ok {
			projects = append(projects, p)
		}
		queues[p] = append(queues[p], it)
	}
	sort.Strings(projects)

	if limit <= 0 {
		limit = len(items)
	}
	out := make([]Item, 0, min(limit, len(items)))
	for len(out) < limit {
		drew := false
		for _, p := range projects {
			if len(out) == limit {
				break
			}
			if q := queues[p]; len(q) > 0 {
				out = append(out, q[0])
				queues[p] = q[1:]
				drew = true
			}
		}
		if !drew {
			break
		}
	}
	return out
}

// runBatch dispatches a batch concurrently and waits for all of it.
func (s *Scheduler) runBatch(ctx context.Context, batch []Item, reports []ItemReport) {
	var g errgroup.Group
	for i, it := range batch {
		g.Go(func() error {
			reports[i] = s.dispatch(ctx, it)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) dispatch(ctx context.Context, it Item) ItemReport {
	rep := ItemReport{TicketID: it.Ticket.ID, TicketKey: it.Ticket.Key, ProjectID: it.Ticket.ProjectID, Pass: it.Pass}
	logger := s.logger.With("ticket_id", it.Ticket.ID, "ticket_key", it.Ticket.Key, "pass", it.Pass)

	out, err := s.dispatcher.Dispatch(ctx, it.Ticket.ID, router.Trigger{
		Role:        it.Role,
		Kind:        cooldown.Auto,
		SuppressAck: true,
		Source:      "scheduler",
	})
	if err == nil {
		err = out.Err()
	}
	for _, t := range out.Launched() {
		rep.Personas = append(rep.Personas, t.Persona.ID)
	}
	rep.Skipped = string(out.Skipped)

	if err != nil {
		rep.Error = err.Error()
		logger.Warn("dispatch failed, ticket stays eligible", "error", err)
		if cerr := s.store.ClearActivity(ctx, it.Ticket.ID); cerr != nil {
			logger.Error("activity marker not cleared", "error", cerr)
		}
		return rep
	}
	if rep.Skipped != "" {
		logger.Debug("dispatch skipped", "reason", rep.Skipped)
	}
	return rep
}

func (r SweepReport) String() string {
	if r.Skipped != "" {
		return "sweep skipped: " + r.Skipped
	}
	return fmt.Sprintf("sweep: %d selected, %d dispatched, %d failed in %s",
		r.Selected, r.Dispatched, r.Failed, r.Duration.Round(time.Millisecond))
}
