package scheduler

import (
	"context"
	"time"

	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/router"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/switchyard/internal/scheduler Store,Dispatcher

// Store is the part of the record store the scheduler reads candidates
// from and resets activity markers in.
type Store interface {
	ResearchCandidates(ctx context.Context, limit int) ([]records.Candidate, error)
	PlanningCandidates(ctx context.Context, limit int) ([]records.Candidate, error)
	ImplementationCandidates(ctx context.Context, quietBefore time.Time, limit int) ([]records.Candidate, error)
	ClearActivity(ctx context.Context, ticketID string) error
	PauseState(ctx context.Context) (records.PauseState, error)
}

// Dispatcher routes one trigger and waits for its jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ticketID string, trig router.Trigger) (router.Outcome, error)
}
