// Package completion turns finished agent output into record store writes:
// the next research version, a plan or design upsert, or a comment. Output
// that looks like an exhausted credential or quota pauses dispatching
// instead of being posted.
package completion

import (
	"strings"

	"github.com/mattjoyce/switchyard/internal/domain"
)

// Payload is the completion callback body.
type Payload struct {
	PersonaID string `json:"personaId"`
	Content   string `json:"content"`
	// Conversational replies become comments; otherwise DocumentType says
	// which artifact Content is.
	Conversational bool           `json:"conversational,omitempty"`
	DocumentType   domain.DocType `json:"documentType,omitempty"`
	SessionDir     string         `json:"sessionDir"`
	Outcome        string         `json:"outcome"`
	// Stderr is only used for classification and is never stored.
	Stderr string `json:"stderr,omitempty"`
}

// Verdict is the classification of a payload before it is applied.
type Verdict struct {
	Intercept bool
	Reason    string
}

// Classify intercepts empty output and output or stderr matching one of the
// exhaustion patterns (case-insensitive).
func Classify(p Payload, patterns []string) Verdict {
	if strings.TrimSpace(p.Content) == "" {
		return Verdict{Intercept: true, Reason: "agent produced empty output"}
	}
	haystacks := []string{strings.ToLower(p.Content), strings.ToLower(p.Stderr)}
	for _, pat := range patterns {
		pat = strings.ToLower(strings.TrimSpace(pat))
		if pat == "" {
			continue
		}
		for _, h := range haystacks {
			if strings.Contains(h, pat) {
				return Verdict{Intercept: true, Reason: "agent output matched " + `"` + pat + `"`}
			}
		}
	}
	return Verdict{}
}
