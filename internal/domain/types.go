// Package domain holds the records switchyard routes work over: tickets,
// documents, personas and projects, plus the closed role enum and the error
// taxonomy shared by every component.
package domain

import "time"

// TicketState is the lifecycle state owned by the record store.
type TicketState string

const (
	StateBacklog  TicketState = "backlog"
	StatePlanning TicketState = "planning"
	StateBuilding TicketState = "building"
	StateReview   TicketState = "review"
	StateShipped  TicketState = "shipped"
)

func (s TicketState) Valid() bool {
	switch s {
	case StateBacklog, StatePlanning, StateBuilding, StateReview, StateShipped:
		return true
	}
	return false
}

// Phase is the stage of work a dispatch targets.
type Phase string

const (
	PhaseResearch       Phase = "research"
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseReview         Phase = "review"
	PhaseShipped        Phase = "shipped"
)

// HumanOwned reports whether agents must not be dispatched in this phase.
func (p Phase) HumanOwned() bool {
	return p == PhaseReview || p == PhaseShipped
}

// Ticket is a unit of work. Only the fields routing needs are modelled.
type Ticket struct {
	ID                  string
	Key                 string
	ProjectID           string
	Title               string
	Description         string
	AcceptanceCriteria  string
	State               TicketState
	Priority            int
	ResearchCompletedAt *time.Time
	ResearchApprovedAt  *time.Time
	PlanApprovedAt      *time.Time
	LastAgentActivity   *time.Time
	AssigneeID          string
	CreatedAt           time.Time
}

// Phase derives the current phase from the lifecycle state and approvals.
func (t Ticket) Phase() Phase {
	switch t.State {
	case StateShipped:
		return PhaseShipped
	case StateReview:
		return PhaseReview
	case StateBuilding:
		return PhaseImplementation
	case StatePlanning:
		return PhasePlanning
	default:
		if t.ResearchApprovedAt != nil {
			return PhasePlanning
		}
		return PhaseResearch
	}
}

// DocType is the kind of artifact a document holds.
type DocType string

const (
	DocResearch DocType = "research"
	DocPlan     DocType = "implementation_plan"
	DocDesign   DocType = "design"
)

func (d DocType) Valid() bool {
	return d == DocResearch || d == DocPlan || d == DocDesign
}

// ResearchCycleVersions is the number of research versions in a full
// author, reviewer, author cycle.
const ResearchCycleVersions = 3

// Document is one stored version of an artifact.
type Document struct {
	ID        string
	TicketID  string
	Type      DocType
	Version   int
	Content   string
	AuthorID  string
	CreatedAt time.Time
}

// Persona is a worker identity. ProjectID is empty for global personas.
type Persona struct {
	ID          string
	Name        string
	Role        Role
	ProjectID   string
	Personality string
	Skills      string
}

// Global reports whether the persona is available to every project.
func (p Persona) Global() bool { return p.ProjectID == "" }

// Project owns tickets and personas and maps to a repository on disk.
type Project struct {
	ID       string
	Name     string
	RootDir  string
	MainRepo string
}

// Comment is a discussion entry on a ticket.
type Comment struct {
	ID        string
	TicketID  string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// AuditEntry records a dispatch side effect.
type AuditEntry struct {
	ID        string
	TicketID  string
	PersonaID string
	Action    string
	Detail    string
	CreatedAt time.Time
}
