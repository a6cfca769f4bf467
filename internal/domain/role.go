package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of persona roles. The zero value is invalid.
type Role int

const (
	RoleUnknown Role = iota
	RoleResearcher
	RoleDeveloper
	RoleDesigner
	RoleCritic
	RoleHacker
	RoleLead
)

// Roles lists every valid role in declaration order.
var Roles = []Role{RoleResearcher, RoleDeveloper, RoleDesigner, RoleCritic, RoleHacker, RoleLead}

// Capabilities is what a role is allowed to do and how it is briefed.
type Capabilities struct {
	Name  string
	Label string
	// Tools is the allow-list handed to the agent CLI.
	Tools []string
	// ConversationTools is the allow-list for the in-process conversation
	// runtime, named as its tool executor names them.
	ConversationTools []string
	// Reviewer roles receive prior artifacts in full.
	Reviewer bool
	// Produces maps a phase to the document type this role writes in it.
	// Phases missing from the map produce a conversational reply.
	Produces map[Phase]DocType
	Section  func(p Persona) string
}

var (
	readTools  = []string{"Read", "Grep", "Glob", "LS"}
	writeTools = []string{"Read", "Grep", "Glob", "LS", "Edit", "Write", "MultiEdit", "Bash"}

	browseTools = []string{"read_file", "search_code", "list_directory"}
	gitTools    = []string{"read_file", "search_code", "list_directory", "git_log", "git_blame"}
)

var capabilities = map[Role]Capabilities{
	RoleResearcher: {
		Name:     "researcher",
		Label:    "Researcher",
		Tools:    append(append([]string{}, readTools...), "WebSearch", "WebFetch"),
		Produces: map[Phase]DocType{PhaseResearch: DocResearch},
		Section: func(p Persona) string {
			return "Investigate the problem space, existing code and prior art. Cite files and sources you relied on."
		},
		ConversationTools: gitTools,
	},
	RoleDeveloper: {
		Name:     "developer",
		Label:    "Developer",
		Tools:    writeTools,
		Produces: map[Phase]DocType{PhasePlanning: DocPlan},
		Section: func(p Persona) string {
			return "Work in small verifiable steps. Keep the build green and commit on the ticket branch."
		},
		ConversationTools: gitTools,
	},
	RoleDesigner: {
		Name:     "designer",
		Label:    "Designer",
		Tools:    append(append([]string{}, readTools...), "Write"),
		Produces: map[Phase]DocType{PhasePlanning: DocDesign},
		Section: func(p Persona) string {
			return "Describe user-facing behaviour, states and edge cases before any implementation detail."
		},
		ConversationTools: browseTools,
	},
	RoleCritic: {
		Name:     "critic",
		Label:    "Critic",
		Tools:    readTools,
		Reviewer: true,
		Produces: map[Phase]DocType{PhaseResearch: DocResearch},
		Section: func(p Persona) string {
			return "Challenge the previous version. Name gaps, wrong assumptions and missing risks explicitly."
		},
		ConversationTools: gitTools,
	},
	RoleHacker: {
		Name:  "hacker",
		Label: "Hacker",
		Tools: append(append([]string{}, readTools...), "Bash"),
		Section: func(p Persona) string {
			return "Probe for security and failure modes. Report concrete reproduction steps."
		},
		ConversationTools: gitTools,
	},
	RoleLead: {
		Name:     "lead",
		Label:    "Lead",
		Tools:    readTools,
		Reviewer: true,
		Section: func(p Persona) string {
			return "Keep the ticket moving. Summarise status, decide between options and unblock others."
		},
		ConversationTools: append(append([]string{}, browseTools...), "git_log"),
	},
}

// Capabilities returns the capability set for r. It panics on RoleUnknown
// or an out-of-range value.
func (r Role) Capabilities() Capabilities {
	c, ok := capabilities[r]
	if !ok {
		panic(fmt.Sprintf("domain: no capabilities for role %d", int(r)))
	}
	return c
}

func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

func (r Role) String() string {
	if c, ok := capabilities[r]; ok {
		return c.Name
	}
	return "unknown"
}

// Reviewer reports whether r receives prior artifacts in full.
func (r Role) Reviewer() bool {
	return r.Valid() && capabilities[r].Reviewer
}

// ParseRole accepts role names case-insensitively. "manager" is an alias for lead.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "manager" {
		return RoleLead, nil
	}
	for _, r := range Roles {
		if capabilities[r].Name == name {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PhaseRole is the role auto-routing picks for a phase when nothing more
// specific was requested.
func PhaseRole(p Phase) (Role, bool) {
	switch p {
	case PhaseResearch:
		return RoleResearcher, true
	case PhasePlanning, PhaseImplementation:
		return RoleDeveloper, true
	case PhaseReview, PhaseShipped:
		return RoleUnknown, false
	}
	return RoleUnknown, false
}

// ResearchRole returns the role that writes the next research version given
// the highest stored version. ok is false once the cycle is complete.
func ResearchRole(maxVersion int) (Role, bool) {
	switch {
	case maxVersion >= ResearchCycleVersions:
		return RoleUnknown, false
	case maxVersion == 1:
		return RoleCritic, true
	default:
		return RoleResearcher, true
	}
}

// BroadcastRoles are the roles relevant to a phase in broadcast mode.
func BroadcastRoles(p Phase) []Role {
	switch p {
	case PhaseResearch:
		return []Role{RoleResearcher, RoleCritic}
	case PhasePlanning:
		return []Role{RoleDeveloper, RoleCritic, RoleHacker}
	case PhaseImplementation:
		return []Role{RoleDeveloper, RoleHacker}
	}
	return nil
}
