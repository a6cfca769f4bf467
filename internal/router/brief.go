package router

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mattjoyce/switchyard/internal/domain"
)

type briefInput struct {
	Ticket          domain.Ticket
	Project         domain.Project
	Persona         domain.Persona
	Phase           domain.Phase
	DocumentType    domain.DocType
	ResearchVersion int
	Documents       []domain.Document
	Comments        []domain.Comment
	Authors         map[string]string
	Message         string
	ExcerptChars    int
}

var docTitles = map[domain.DocType]string{
	domain.DocResearch: "Research",
	domain.DocPlan:     "Implementation plan",
	domain.DocDesign:   "Design",
}

// buildBrief renders task.md. Non-reviewer roles see prior artifacts cut to
// ExcerptChars; reviewers see them in full.
func buildBrief(in briefInput) string {
	var b strings.Builder
	t := in.Ticket

	fmt.Fprintf(&b, "# %s: %s\n\n", t.Key, t.Title)
	fmt.Fprintf(&b, "- Project: %s\n", projectName(in.Project))
	fmt.Fprintf(&b, "- State: %s (phase: %s)\n", t.State, in.Phase)
	fmt.Fprintf(&b, "- Priority: %d\n", t.Priority)
	if in.Persona.Name != "" {
		fmt.Fprintf(&b, "- Assigned to you: %s (%s)\n", in.Persona.Name, in.Persona.Role.Capabilities().Label)
	}

	if d := strings.TrimSpace(t.Description); d != "" {
		b.WriteString("\n## Description\n\n" + d + "\n")
	}
	if ac := strings.TrimSpace(t.AcceptanceCriteria); ac != "" {
		b.WriteString("\n## Acceptance criteria\n\n" + ac + "\n")
	}

	if len(in.Documents) > 0 {
		b.WriteString("\n## Prior artifacts\n")
		full := in.Persona.Role.Reviewer()
		for _, d := range in.Documents {
			content := d.Content
			if !full {
				content = excerpt(content, in.ExcerptChars)
			}
			fmt.Fprintf(&b, "\n### %s (version %d)\n\n%s\n", docTitle(d.Type), d.Version, content)
		}
	}

	if len(in.Comments) > 0 {
		b.WriteString("\n## Recent discussion\n\n")
		for _, c := range in.Comments {
			author := in.Authors[c.AuthorID]
			if author == "" {
				author = c.AuthorID
			}
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", author, c.CreatedAt.UTC().Format("2006-01-02 15:04"), oneLine(c.Body))
		}
	}

	if m := strings.TrimSpace(in.Message); m != "" {
		b.WriteString("\n## Request\n\n" + quote(m) + "\n")
	}

	b.WriteString("\n" + instructions(in) + "\n")
	b.WriteString("\n## Response\n\n" + responseNote(in) + "\n")
	return b.String()
}

// instructions returns the single phase block for the ticket's approval
// state.
func instructions(in briefInput) string {
	t := in.Ticket
	switch {
	case t.PlanApprovedAt != nil:
		return "## Instructions: implementation\n\n" +
			"The plan is approved. Implement it in this workspace in small, verifiable steps. " +
			"Run the project's tests before you finish and summarise what changed and what remains."
	case t.ResearchApprovedAt != nil:
		return "## Instructions: planning\n\n" +
			"Research is approved. Write an implementation plan: ordered steps, files touched, " +
			"tests to add, and risks. Do not change code yet."
	}
	switch {
	case in.DocumentType != domain.DocResearch:
		return "## Instructions: research\n\n" +
			"Research is in progress. Answer the request using the research so far; do not rewrite it."
	case in.ResearchVersion == 0:
		return "## Instructions: research\n\n" +
			"Investigate the problem. Describe the current behaviour, the relevant code, constraints " +
			"and open questions. Cite the files you relied on."
	case in.ResearchVersion == 1:
		return "## Instructions: research review\n\n" +
			"Review research version 1 critically. Name gaps, wrong assumptions and missing risks. " +
			"Write only your review; it is appended to the existing document."
	default:
		return "## Instructions: research revision\n\n" +
			"Revise the research to address every point in the review. Produce the complete final " +
			"document, not a diff."
	}
}

func responseNote(in briefInput) string {
	if in.DocumentType == "" {
		return "Reply with a short comment for the ticket discussion."
	}
	return fmt.Sprintf("Your final answer is stored as the ticket's %s document. "+
		"Print only the document content.", strings.ToLower(docTitle(in.DocumentType)))
}

// systemPrompt is written to system-prompt.txt and passed to the agent out
// of band.
func systemPrompt(p domain.Persona, project domain.Project) string {
	caps := p.Role.Capabilities()
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the %s on project %s.\n", p.Name, caps.Label, projectName(project))
	if s := strings.TrimSpace(p.Personality); s != "" {
		b.WriteString("\n" + s + "\n")
	}
	if s := strings.TrimSpace(p.Skills); s != "" {
		b.WriteString("\nSkills: " + s + "\n")
	}
	if caps.Section != nil {
		b.WriteString("\n" + caps.Section(p) + "\n")
	}
	return b.String()
}

// excerpt cuts s to n runes. n <= 0 disables the cut.
func excerpt(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + fmt.Sprintf("\n\n[... %d more characters]", len(r)-n)
}

func docTitle(t domain.DocType) string {
	if s, ok := docTitles[t]; ok {
		return s
	}
	return string(t)
}

func projectName(p domain.Project) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}
