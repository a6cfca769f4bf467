// Package catalog discovers personas declared as persona.yaml manifests and
// keeps the record store in step with them.
package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mattjoyce/switchyard/internal/domain"
)

const manifestFilename = "persona.yaml"

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Manifest is the structure of a persona.yaml file.
type Manifest struct {
	ID   string      `yaml:"id"`
	Name string      `yaml:"name"`
	Role domain.Role `yaml:"role"`
	// Project scopes the persona to one project. Empty means global.
	Project     string `yaml:"project,omitempty"`
	Personality string `yaml:"personality,omitempty"`
	Skills      string `yaml:"skills,omitempty"`
}

// Entry is a discovered and validated persona.
type Entry struct {
	Persona domain.Persona
	// Path is the absolute path of the manifest file.
	Path string
}

func (m Manifest) persona() domain.Persona {
	return domain.Persona{
		ID:          m.ID,
		Name:        strings.TrimSpace(m.Name),
		Role:        m.Role,
		ProjectID:   strings.TrimSpace(m.Project),
		Personality: strings.TrimSpace(m.Personality),
		Skills:      strings.TrimSpace(m.Skills),
	}
}

func validateManifest(m *Manifest) error {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("id %q must be lowercase letters, digits, '.', '_' or '-'", m.ID)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(m.Name, " \t@") {
		return fmt.Errorf("name %q must be a single word without '@' so it can be mentioned", m.Name)
	}
	if !m.Role.Valid() {
		return fmt.Errorf("role is required")
	}
	return nil
}
