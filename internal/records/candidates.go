package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattjoyce/switchyard/internal/domain"
)

// Candidate is a ticket selected by a scheduler pass.
type Candidate struct {
	Ticket domain.Ticket
	// MaxResearchVersion is only populated by ResearchCandidates.
	MaxResearchVersion int
}

func (s *SQLStore) ResearchCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+ticketColumns+`, COALESCE(MAX(d.version), 0) AS max_version
FROM tickets t
LEFT JOIN documents d ON d.ticket_id = t.id AND d.type = 'research'
WHERE t.state = 'backlog' AND t.research_approved_at IS NULL
GROUP BY t.id
HAVING max_version < ?
ORDER BY t.priority DESC, t.created_at ASC
LIMIT ?;
`, domain.ResearchCycleVersions, limit)
	if err != nil {
		return nil, fmt.Errorf("query research candidates: %w", err)
	}
	return scanCandidates(rows, true)
}

func (s *SQLStore) PlanningCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+ticketColumns+`
FROM tickets t
WHERE t.research_approved_at IS NOT NULL
  AND t.state IN ('backlog', 'planning')
  AND NOT EXISTS (SELECT 1 FROM documents d WHERE d.ticket_id = t.id AND d.type = 'implementation_plan')
ORDER BY t.priority DESC, t.created_at ASC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query planning candidates: %w", err)
	}
	return scanCandidates(rows, false)
}

func (s *SQLStore) ImplementationCandidates(ctx context.Context, quietBefore time.Time, limit int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+ticketColumns+`
FROM tickets t
WHERE t.plan_approved_at IS NOT NULL
  AND t.state = 'building'
  AND (t.last_agent_activity IS NULL OR t.last_agent_activity < ?)
ORDER BY t.priority DESC, t.created_at ASC
LIMIT ?;
`, formatTime(quietBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("query implementation candidates: %w", err)
	}
	return scanCandidates(rows, false)
}

func scanCandidates(rows *sql.Rows, withVersion bool) ([]Candidate, error) {
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c   Candidate
			err error
		)
		if withVersion {
			c.Ticket, err = scanTicket(rows, &c.MaxResearchVersion)
		} else {
			c.Ticket, err = scanTicket(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
