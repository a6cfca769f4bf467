// Package records is the SQLite adapter for the record store contract:
// tickets, personas, projects, documents, comments, the audit log and the
// system pause flag. Writes are last-write-wins; only document versioning
// runs inside a transaction.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/switchyard/internal/domain"
)

// Store is the full record store contract consumed by switchyard.
type Store interface {
	Ticket(ctx context.Context, id string) (domain.Ticket, error)
	TicketByKey(ctx context.Context, key string) (domain.Ticket, error)
	Project(ctx context.Context, id string) (domain.Project, error)
	Persona(ctx context.Context, id string) (domain.Persona, error)
	PersonaByName(ctx context.Context, projectID, name string) (domain.Persona, error)
	PersonasByRole(ctx context.Context, projectID string, role domain.Role) ([]domain.Persona, error)

	ResearchCandidates(ctx context.Context, limit int) ([]Candidate, error)
	PlanningCandidates(ctx context.Context, limit int) ([]Candidate, error)
	ImplementationCandidates(ctx context.Context, quietBefore time.Time, limit int) ([]Candidate, error)

	LatestDocument(ctx context.Context, ticketID string, typ domain.DocType) (domain.Document, error)
	Documents(ctx context.Context, ticketID string, typ domain.DocType) ([]domain.Document, error)
	AppendResearch(ctx context.Context, ticketID, authorID, reviewerName, content string) (domain.Document, error)
	UpsertDocument(ctx context.Context, ticketID string, typ domain.DocType, authorID, content string) (domain.Document, error)

	RecentComments(ctx context.Context, ticketID string, limit int) ([]domain.Comment, error)
	AddComment(ctx context.Context, ticketID, authorID, body string) (domain.Comment, error)
	AppendAudit(ctx context.Context, e domain.AuditEntry) error

	TouchActivity(ctx context.Context, ticketID, assigneeID string, at time.Time) error
	ClearActivity(ctx context.Context, ticketID string) error

	PauseState(ctx context.Context) (PauseState, error)
	Pause(ctx context.Context, reason string, until *time.Time) error
	Resume(ctx context.Context) error
}

// SQLStore implements Store on the schema created by storage.BootstrapSQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func notFound(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("read %s %q: %w", what, id, err)
}

// --- projects ---

func (s *SQLStore) PutProject(ctx context.Context, p domain.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO projects(id, name, root_dir, main_repo) VALUES(?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  root_dir = excluded.root_dir,
  main_repo = excluded.main_repo;
`, p.ID, p.Name, p.RootDir, p.MainRepo)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (s *SQLStore) Project(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, root_dir, main_repo FROM projects WHERE id = ?;", id,
	).Scan(&p.ID, &p.Name, &p.RootDir, &p.MainRepo)
	if err != nil {
		return domain.Project{}, notFound("project", id, err)
	}
	return p, nil
}

func (s *SQLStore) Projects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, root_dir, main_repo FROM projects ORDER BY id;")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RootDir, &p.MainRepo); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- personas ---

const personaColumns = "id, name, role, project_id, personality, skills"

func scanPersona(row interface{ Scan(...any) error }) (domain.Persona, error) {
	var (
		p    domain.Persona
		role string
	)
	if err := row.Scan(&p.ID, &p.Name, &role, &p.ProjectID, &p.Personality, &p.Skills); err != nil {
		return domain.Persona{}, err
	}
	r, err := domain.ParseRole(role)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("persona %q: %w", p.ID, err)
	}
	p.Role = r
	return p, nil
}

func (s *SQLStore) PutPersona(ctx context.Context, p domain.Persona) error {
	if p.ID == "" {
		return fmt.Errorf("persona id is empty")
	}
	if !p.Role.Valid() {
		return fmt.Errorf("persona %q has invalid role", p.ID)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO personas(id, name, role, project_id, personality, skills, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name = excluded.name,
  role = excluded.role,
  project_id = excluded.project_id,
  personality = excluded.personality,
  skills = excluded.skills,
  updated_at = excluded.updated_at;
`, p.ID, p.Name, p.Role.String(), p.ProjectID, p.Personality, p.Skills, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("upsert persona: %w", err)
	}
	return nil
}

func (s *SQLStore) Persona(ctx context.Context, id string) (domain.Persona, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+personaColumns+" FROM personas WHERE id = ?;", id)
	p, err := scanPersona(row)
	if err != nil {
		return domain.Persona{}, notFound("persona", id, err)
	}
	return p, nil
}

// PersonaByName matches case-insensitively. An empty projectID searches
// every persona, project-scoped ones included.
func (s *SQLStore) PersonaByName(ctx context.Context, projectID, name string) (domain.Persona, error) {
	name = strings.TrimSpace(name)
	var row *sql.Row
	if projectID == "" {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+personaColumns+" FROM personas WHERE lower(name) = lower(?) ORDER BY project_id = '' DESC, id LIMIT 1;", name)
	} else {
		row = s.db.QueryRowContext(ctx,
			"SELECT "+personaColumns+" FROM personas WHERE lower(name) = lower(?) AND project_id = ? ORDER BY id LIMIT 1;", name, projectID)
	}
	p, err := scanPersona(row)
	if err != nil {
		return domain.Persona{}, notFound("persona", name, err)
	}
	return p, nil
}

// PersonasByRole returns project personas first, then global ones.
func (s *SQLStore) PersonasByRole(ctx context.Context, projectID string, role domain.Role) ([]domain.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+personaColumns+` FROM personas
WHERE role = ? AND (project_id = ? OR project_id = '')
ORDER BY project_id = '' ASC, id ASC;
`, role.String(), projectID)
	if err != nil {
		return nil, fmt.Errorf("list personas by role: %w", err)
	}
	defer rows.Close()

	var out []domain.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- tickets ---

const ticketColumns = `t.id, t.key, t.project_id, t.title, t.description, t.acceptance_criteria, t.state,
  t.priority, t.research_completed_at, t.research_approved_at, t.plan_approved_at,
  t.last_agent_activity, t.assignee_id, t.created_at`

func scanTicket(row interface{ Scan(...any) error }, extra ...any) (domain.Ticket, error) {
	var (
		t                                    domain.Ticket
		state, createdAt                     string
		completed, rApproved, pApproved, act sql.NullString
	)
	dest := []any{
		&t.ID, &t.Key, &t.ProjectID, &t.Title, &t.Description, &t.AcceptanceCriteria, &state,
		&t.Priority, &completed, &rApproved, &pApproved, &act, &t.AssigneeID, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Ticket{}, err
	}
	t.State = domain.TicketState(state)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Ticket{}, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{completed, &t.ResearchCompletedAt},
		{rApproved, &t.ResearchApprovedAt},
		{pApproved, &t.PlanApprovedAt},
		{act, &t.LastAgentActivity},
	} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return domain.Ticket{}, err
		}
	}
	return t, nil
}

// PutTicket inserts or replaces a ticket. A zero CreatedAt is set to now.
func (s *SQLStore) PutTicket(ctx context.Context, t domain.Ticket) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Key == "" {
		return fmt.Errorf("ticket key is empty")
	}
	if !t.State.Valid() {
		return fmt.Errorf("ticket %q has invalid state %q", t.Key, t.State)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tickets(id, key, project_id, title, description, acceptance_criteria, state, priority,
  research_completed_at, research_approved_at, plan_approved_at, last_agent_activity, assignee_id, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  key = excluded.key,
  project_id = excluded.project_id,
  title = excluded.title,
  description = excluded.description,
  acceptance_criteria = excluded.acceptance_criteria,
  state = excluded.state,
  priority = excluded.priority,
  research_completed_at = excluded.research_completed_at,
  research_approved_at = excluded.research_approved_at,
  plan_approved_at = excluded.plan_approved_at,
  last_agent_activity = excluded.last_agent_activity,
  assignee_id = excluded.assignee_id;
`, t.ID, t.Key, t.ProjectID, t.Title, t.Description, t.AcceptanceCriteria, string(t.State), t.Priority,
		nullTime(t.ResearchCompletedAt), nullTime(t.ResearchApprovedAt), nullTime(t.PlanApprovedAt),
		nullTime(t.LastAgentActivity), t.AssigneeID, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert ticket: %w", err)
	}
	return nil
}

func (s *SQLStore) Ticket(ctx context.Context, id string) (domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets t WHERE t.id = ?;", id)
	t, err := scanTicket(row)
	if err != nil {
		return domain.Ticket{}, notFound("ticket", id, err)
	}
	return t, nil
}

func (s *SQLStore) TicketByKey(ctx context.Context, key string) (domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM tickets t WHERE t.key = ?;", key)
	t, err := scanTicket(row)
	if err != nil {
		return domain.Ticket{}, notFound("ticket", key, err)
	}
	return t, nil
}

// SetState writes a lifecycle transition.
func (s *SQLStore) SetState(ctx context.Context, ticketID string, state domain.TicketState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid state %q", state)
	}
	return s.execOne(ctx, "set state", ticketID,
		"UPDATE tickets SET state = ? WHERE id = ?;", string(state), ticketID)
}

// ApproveResearch and ApprovePlan record the human approvals that gate the
// planning and implementation passes.
func (s *SQLStore) ApproveResearch(ctx context.Context, ticketID string) error {
	return s.execOne(ctx, "approve research", ticketID,
		"UPDATE tickets SET research_approved_at = ? WHERE id = ?;", formatTime(s.now()), ticketID)
}

func (s *SQLStore) ApprovePlan(ctx context.Context, ticketID string) error {
	return s.execOne(ctx, "approve plan", ticketID,
		"UPDATE tickets SET plan_approved_at = ? WHERE id = ?;", formatTime(s.now()), ticketID)
}

func (s *SQLStore) TouchActivity(ctx context.Context, ticketID, assigneeID string, at time.Time) error {
	return s.execOne(ctx, "touch activity", ticketID,
		"UPDATE tickets SET last_agent_activity = ?, assignee_id = ? WHERE id = ?;",
		formatTime(at), assigneeID, ticketID)
}

func (s *SQLStore) ClearActivity(ctx context.Context, ticketID string) error {
	return s.execOne(ctx, "clear activity", ticketID,
		"UPDATE tickets SET last_agent_activity = NULL WHERE id = ?;", ticketID)
}

func (s *SQLStore) execOne(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: ticket %q: %w", op, id, domain.ErrNotFound)
	}
	return nil
}

// --- comments and audit ---

func (s *SQLStore) AddComment(ctx context.Context, ticketID, authorID, body string) (domain.Comment, error) {
	c := domain.Comment{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO comments(id, ticket_id, author_id, body, created_at) VALUES(?, ?, ?, ?, ?);",
		c.ID, c.TicketID, c.AuthorID, c.Body, formatTime(c.CreatedAt))
	if err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

// RecentComments returns up to limit comments, oldest first.
func (s *SQLStore) RecentComments(ctx context.Context, ticketID string, limit int) ([]domain.Comment, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, ticket_id, author_id, body, created_at FROM (
  SELECT rowid AS seq, * FROM comments WHERE ticket_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
) ORDER BY created_at ASC, seq ASC;
`, ticketID, limit)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var (
			c  domain.Comment
			at string
		)
		if err := rows.Scan(&c.ID, &c.TicketID, &c.AuthorID, &c.Body, &at); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO audit_log(id, ticket_id, persona_id, action, detail, created_at) VALUES(?, ?, ?, ?, ?, ?);",
		e.ID, e.TicketID, e.PersonaID, e.Action, e.Detail, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Audit returns a ticket's audit trail, oldest first.
func (s *SQLStore) Audit(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ticket_id, persona_id, action, detail, created_at FROM audit_log WHERE ticket_id = ? ORDER BY created_at, rowid;",
		ticketID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e  domain.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &e.TicketID, &e.PersonaID, &e.Action, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
