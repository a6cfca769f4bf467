// Package doctor checks that a switchyard installation can actually run:
// configuration, tools on PATH, project repositories and the persona
// catalog.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattjoyce/switchyard/internal/auth"
	"github.com/mattjoyce/switchyard/internal/catalog"
	"github.com/mattjoyce/switchyard/internal/config"
	"github.com/mattjoyce/switchyard/internal/domain"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the host and the persona catalog.
type Doctor struct {
	cfg     *config.Config
	catalog *catalog.Catalog

	lookPath func(string) (string, error)
}

// New creates a Doctor. cat may be nil when discovery failed; the caller
// reports that failure itself.
func New(cfg *config.Config, cat *catalog.Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: cat, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTools(r)
	d.validateLLM(r)
	d.validateProjects(r)
	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.validateIntegrity(r)
	d.validateCatalog(r)
	d.warnScheduler(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateTools checks that git and the agent CLI are on PATH.
func (d *Doctor) validateTools(r *Result) {
	if _, err := d.lookPath("git"); err != nil {
		d.addError(r, "tools", "", "git not found on PATH")
	}
	if d.cfg.Agent.Strategy != config.StrategyCLI {
		return
	}
	if _, err := d.lookPath(d.cfg.Agent.Command); err != nil {
		d.addError(r, "tools", "agent.command", fmt.Sprintf("agent command %q not found on PATH", d.cfg.Agent.Command))
	}
}

func (d *Doctor) validateLLM(r *Result) {
	if d.cfg.Agent.Strategy != config.StrategyConversation {
		return
	}
	u, err := url.Parse(d.cfg.LLM.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		d.addError(r, "llm", "llm.base_url", fmt.Sprintf("invalid base URL %q", d.cfg.LLM.BaseURL))
		return
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		d.addWarning(r, "llm", "llm.base_url", "API key would be sent over plain http")
	}
}

// validateProjects checks that every project has a usable repository.
func (d *Doctor) validateProjects(r *Result) {
	if len(d.cfg.Projects) == 0 {
		d.addWarning(r, "projects", "projects", "no projects configured; only projects already in the database will be served")
	}
	seen := make(map[string]bool)
	for i, p := range d.cfg.Projects {
		field := fmt.Sprintf("projects[%d]", i)
		if p.ID == "" {
			d.addError(r, "projects", field+".id", "project id is required")
			continue
		}
		if seen[p.ID] {
			d.addError(r, "projects", field+".id", fmt.Sprintf("duplicate project id %q", p.ID))
		}
		seen[p.ID] = true

		repo := p.MainRepo
		if repo == "" {
			repo = p.RootDir
		}
		if repo == "" {
			d.addError(r, "projects", field, fmt.Sprintf("project %q needs root_dir or main_repo", p.ID))
			continue
		}
		info, err := os.Stat(repo)
		if err != nil || !info.IsDir() {
			d.addError(r, "projects", field+".main_repo", fmt.Sprintf("repository %s does not exist", repo))
			continue
		}
		if _, err := os.Stat(filepath.Join(repo, ".git")); err != nil {
			d.addError(r, "projects", field+".main_repo", fmt.Sprintf("%s is not a git repository", repo))
		}
	}
}

// validateTokenScopes checks that every API token scope is understood.
func (d *Doctor) validateTokenScopes(r *Result) {
	if !d.cfg.API.Enabled {
		if len(d.cfg.API.Tokens) > 0 {
			d.addWarning(r, "api", "api.tokens", "tokens configured but the API is disabled")
		}
		return
	}
	known := map[string]bool{auth.ScopeRead: true, auth.ScopeDispatch: true, auth.ScopeComplete: true, auth.ScopeAdmin: true}
	tokens := make(map[string]int)
	for i, token := range d.cfg.API.Tokens {
		for j, scope := range token.Scopes {
			if !known[strings.ToLower(strings.TrimSpace(scope))] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected read, dispatch, complete or admin)", scope))
			}
		}
		if prev, ok := tokens[token.Token]; ok && token.Token != "" {
			d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].token", i),
				fmt.Sprintf("token value duplicates api.tokens[%d]", prev))
		}
		tokens[token.Token] = i
	}
	if d.cfg.Completion.Delivery == config.DeliveryHTTP && !d.completionTokenValid() {
		d.addWarning(r, "api", "completion.token", "completion.token does not match an API token with the complete scope")
	}
}

func (d *Doctor) completionTokenValid() bool {
	p, ok := auth.Authenticate(d.cfg.Completion.Token, d.cfg.API.Tokens)
	return ok && auth.HasAnyScope(p, auth.ScopeComplete)
}

// validateWebhooks checks endpoint paths and secrets.
func (d *Doctor) validateWebhooks(r *Result) {
	seen := make(map[string]int)
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		normalized := strings.TrimRight(ep.Path, "/")
		if prev, ok := seen[normalized]; ok {
			d.addError(r, "webhooks", field+".path",
				fmt.Sprintf("path %q conflicts with webhooks.endpoints[%d]", ep.Path, prev))
		}
		seen[normalized] = i

		if ep.Secret == "" {
			d.addError(r, "webhooks", field+".secret", "secret is required")
		} else if len(ep.Secret) < 16 {
			d.addWarning(r, "webhooks", field+".secret", "secret is shorter than 16 characters")
		}
	}
}

// validateIntegrity checks the config checksum manifest. Strict mode turns
// a missing or stale manifest into an error.
func (d *Doctor) validateIntegrity(r *Result) {
	if d.cfg.SourcePath == "" {
		return
	}
	err := config.VerifyLock(d.cfg.SourcePath)
	if err == nil {
		return
	}
	if d.cfg.Integrity.Strict {
		d.addError(r, "integrity", "integrity.strict", err.Error())
		return
	}
	d.addWarning(r, "integrity", "", err.Error())
}

// validateCatalog checks persona project references and warns about
// phases no persona can serve.
func (d *Doctor) validateCatalog(r *Result) {
	if d.catalog == nil {
		return
	}
	if d.catalog.Len() == 0 {
		d.addWarning(r, "personas", "catalog.roots", "no personas discovered")
		return
	}

	projects := make(map[string]bool, len(d.cfg.Projects))
	for _, p := range d.cfg.Projects {
		projects[p.ID] = true
	}
	roles := map[string]map[domain.Role]bool{"": {}}
	for _, e := range d.catalog.All() {
		p := e.Persona
		if !p.Global() && len(projects) > 0 && !projects[p.ProjectID] {
			d.addWarning(r, "personas", e.Path, fmt.Sprintf("persona %q belongs to unknown project %q", p.ID, p.ProjectID))
		}
		if roles[p.ProjectID] == nil {
			roles[p.ProjectID] = make(map[domain.Role]bool)
		}
		roles[p.ProjectID][p.Role] = true
	}

	for _, proj := range d.cfg.Projects {
		for _, phase := range []domain.Phase{domain.PhaseResearch, domain.PhasePlanning, domain.PhaseImplementation} {
			for _, role := range domain.BroadcastRoles(phase) {
				if !roles[proj.ID][role] && !roles[""][role] {
					d.addWarning(r, "personas", "projects."+proj.ID,
						fmt.Sprintf("no %s persona for the %s phase", role, phase))
				}
			}
		}
	}
}

func (d *Doctor) warnScheduler(r *Result) {
	s := d.cfg.Scheduler
	if !s.Enabled {
		return
	}
	if s.MaxInFlight <= 0 {
		d.addWarning(r, "scheduler", "scheduler.max_in_flight", "unbounded; every candidate of a sweep may run at once")
	}
	if s.Interval < 10*time.Second {
		d.addWarning(r, "scheduler", "scheduler.interval", fmt.Sprintf("interval %s is very short (< 10s)", s.Interval))
	}
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
