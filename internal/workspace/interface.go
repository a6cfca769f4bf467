// Package workspace provisions the isolated git worktree each ticket's
// dispatches run in, and folds it back into the main repository when the
// ticket ships.
package workspace

import (
	"context"

	"github.com/mattjoyce/switchyard/internal/domain"
)

// Workspace is where a dispatch runs. Isolated is false when provisioning
// fell back to the project's main repository.
type Workspace struct {
	Path     string
	Branch   string
	Isolated bool
}

// ShipResult reports how a ticket's worktree was folded back.
type ShipResult struct {
	Merged    bool
	Recovered bool
	Commit    string
}

// Manager resolves per-ticket workspaces.
type Manager interface {
	// EnsureWorkspace never fails; problems degrade to the main repository.
	EnsureWorkspace(ctx context.Context, project domain.Project, ticketKey string) Workspace
	Ship(ctx context.Context, project domain.Project, ticketKey string) (ShipResult, error)
}
