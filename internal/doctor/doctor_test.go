package doctor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/catalog"
	"github.com/mattjoyce/switchyard/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "web")
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	cfg := config.Defaults()
	cfg.Projects = []config.ProjectConfig{{ID: "web", Name: "Web", MainRepo: repo}}
	return cfg
}

func newDoctor(cfg *config.Config, cat *catalog.Catalog, missing ...string) *Doctor {
	d := New(cfg, cat)
	d.lookPath = func(name string) (string, error) {
		for _, m := range missing {
			if m == name {
				return "", errors.New("not found")
			}
		}
		return "/usr/bin/" + name, nil
	}
	return d
}

// fullCatalog declares one global persona per role the phases need.
func fullCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	root := t.TempDir()
	for _, p := range []struct{ id, name, role string }{
		{"p-rita", "Rita", "researcher"},
		{"p-cal", "Cal", "critic"},
		{"p-dana", "Dana", "developer"},
		{"p-hal", "Hal", "hacker"},
	} {
		dir := filepath.Join(root, p.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		body := "id: " + p.id + "\nname: " + p.name + "\nrole: " + p.role + "\n"
		if err := os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	cat, err := catalog.Discover([]string{root}, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	return cat
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t), fullCatalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_MissingTools(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t), fullCatalog(t), "git", "claude").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "tools", "git not found")
	assertHasError(t, r, "tools", `"claude" not found`)
}

func TestValidate_ConversationSkipsAgentCommand(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Agent.Strategy = config.StrategyConversation
	cfg.LLM.BaseURL = "http://llm.internal:8080"
	r := newDoctor(cfg, fullCatalog(t), "claude").Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "llm", "plain http")

	cfg.LLM.BaseURL = "::not a url"
	r = newDoctor(cfg, fullCatalog(t)).Validate()
	assertHasError(t, r, "llm", "invalid base URL")
}

func TestValidate_Projects(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	plain := t.TempDir()
	cfg.Projects = append(cfg.Projects,
		config.ProjectConfig{ID: "web"},
		config.ProjectConfig{ID: "api", RootDir: plain},
		config.ProjectConfig{ID: "gone", MainRepo: filepath.Join(plain, "missing")},
		config.ProjectConfig{},
	)
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "projects", `duplicate project id "web"`)
	assertHasError(t, r, "projects", "is not a git repository")
	assertHasError(t, r, "projects", "does not exist")
	assertHasError(t, r, "projects", "id is required")
}

func TestValidate_NoProjectsWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Projects = nil
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "projects", "no projects configured")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Tokens = []config.APIToken{
		{Name: "ops", Token: "t-1", Scopes: []string{"Admin"}},
		{Name: "bot", Token: "t-2", Scopes: []string{"read", "trigger:echo"}},
		{Name: "dup", Token: "t-1", Scopes: []string{"read"}},
	}
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", `unknown scope "trigger:echo"`)
	assertHasError(t, r, "token_scopes", "duplicates api.tokens[0]")
}

func TestValidate_CompletionTokenNeedsScope(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Tokens = []config.APIToken{{Name: "reader", Token: "t-r", Scopes: []string{"read"}}}
	cfg.Completion.Delivery = config.DeliveryHTTP
	cfg.Completion.URL = "http://127.0.0.1:8411"
	cfg.Completion.Token = "t-r"
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	assertHasWarning(t, r, "api", "complete scope")

	cfg.API.Tokens[0].Scopes = []string{"complete"}
	r = newDoctor(cfg, fullCatalog(t)).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_DisabledAPIWithTokensWarns(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Tokens = []config.APIToken{{Token: "x", Scopes: []string{"read"}}}
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	assertHasWarning(t, r, "api", "API is disabled")
}

func TestValidate_Webhooks(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Webhooks.Endpoints = []config.WebhookEndpoint{
		{Name: "tracker", Path: "/hooks/tracker", Secret: "a-long-enough-secret"},
		{Name: "again", Path: "/hooks/tracker/", Secret: "short"},
		{Name: "open", Path: "/hooks/open"},
	}
	r := newDoctor(cfg, fullCatalog(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "webhooks", "conflicts with")
	assertHasError(t, r, "webhooks", "secret is required")
	assertHasWarning(t, r, "webhooks", "shorter than 16")
}

func TestValidate_Integrity(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: sy\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg.SourcePath = path

	r := newDoctor(cfg, fullCatalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "integrity", "checksums file not found")

	cfg.Integrity.Strict = true
	r = newDoctor(cfg, fullCatalog(t)).Validate()
	assertHasError(t, r, "integrity", "checksums file not found")

	if _, err := config.Lock(path); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	r = newDoctor(cfg, fullCatalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid after lock, got: %v", r.Errors)
	}
}

func TestValidate_CatalogCoverage(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "rita")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	body := "id: p-rita\nname: Rita\nrole: researcher\nproject: mobile\n"
	if err := os.WriteFile(filepath.Join(dir, "persona.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cat, err := catalog.Discover([]string{root}, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	r := newDoctor(validConfig(t), cat).Validate()
	if !r.Valid {
		t.Fatalf("catalog gaps must only warn, got: %v", r.Errors)
	}
	assertHasWarning(t, r, "personas", `unknown project "mobile"`)
	assertHasWarning(t, r, "personas", "no researcher persona for the research phase")
	assertHasWarning(t, r, "personas", "no hacker persona for the implementation phase")

	empty, err := catalog.Discover([]string{t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	r = newDoctor(validConfig(t), empty).Validate()
	assertHasWarning(t, r, "personas", "no personas discovered")
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	out := FormatHuman(&Result{Valid: true})
	if !strings.Contains(out, "Configuration valid.") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] odd") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
