package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the config at configPath.
// A directory is accepted and resolved to its config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath

	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, filepath.Dir(absPath))

	if cfg.Integrity.Strict {
		if err := VerifyLock(absPath); err != nil {
			return nil, err
		}
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\nHint: check the path or pass --config", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// DiscoverConfig finds a config file: $SWITCHYARD_CONFIG, ~/.config/switchyard,
// /etc/switchyard, then ./config.yaml.
func DiscoverConfig() (string, error) {
	candidates := []string{os.Getenv("SWITCHYARD_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "switchyard"))
	}
	candidates = append(candidates, "/etc/switchyard", "./config.yaml")

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $SWITCHYARD_CONFIG, ~/.config/switchyard, /etc/switchyard, ./config.yaml)")
}

// applyConfigDefaults fills values that were explicitly zeroed or left blank.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	cfg.Service.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Service.LogLevel))
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Agent.Strategy = strings.ToLower(strings.TrimSpace(cfg.Agent.Strategy))
	if cfg.Agent.Strategy == "" {
		cfg.Agent.Strategy = defaults.Agent.Strategy
	}
	if cfg.Agent.Grace <= 0 {
		cfg.Agent.Grace = defaults.Agent.Grace
	}
	if cfg.Agent.OutputCapBytes <= 0 {
		cfg.Agent.OutputCapBytes = defaults.Agent.OutputCapBytes
	}
	if cfg.Conversation.MaxTurns <= 0 {
		cfg.Conversation.MaxTurns = defaults.Conversation.MaxTurns
	}
	if cfg.Conversation.ToolResultBytes <= 0 {
		cfg.Conversation.ToolResultBytes = defaults.Conversation.ToolResultBytes
	}
	if cfg.Scheduler.MaxInFlight <= 0 {
		cfg.Scheduler.MaxInFlight = defaults.Scheduler.MaxInFlight
	}
	if cfg.Cooldown.MaxEntries <= 0 {
		cfg.Cooldown.MaxEntries = defaults.Cooldown.MaxEntries
	}
	if cfg.Workspace.BranchPrefix == "" {
		cfg.Workspace.BranchPrefix = defaults.Workspace.BranchPrefix
	}
	cfg.Completion.Delivery = strings.ToLower(strings.TrimSpace(cfg.Completion.Delivery))
	if cfg.Completion.Delivery == "" {
		cfg.Completion.Delivery = defaults.Completion.Delivery
	}
	for i := range cfg.Webhooks.Endpoints {
		ep := &cfg.Webhooks.Endpoints[i]
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = "X-Switchyard-Signature"
		}
		if ep.MaxBodySize <= 0 {
			ep.MaxBodySize = 1 << 20
		}
	}
	return cfg
}

// resolvePaths makes filesystem paths relative to the config file's directory.
func resolvePaths(cfg *Config, baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Service.StateDir = abs(cfg.Service.StateDir)
	cfg.Database.Path = abs(cfg.Database.Path)
	cfg.Workspace.Root = abs(cfg.Workspace.Root)
	cfg.Sessions.Root = abs(cfg.Sessions.Root)
	for i, r := range cfg.Catalog.Roots {
		cfg.Catalog.Roots[i] = abs(r)
	}
	for i := range cfg.Projects {
		cfg.Projects[i].RootDir = abs(cfg.Projects[i].RootDir)
		cfg.Projects[i].MainRepo = abs(cfg.Projects[i].MainRepo)
	}
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the missing variable.
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

func validate(cfg *Config) error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: %s (got %q)", strings.Join(validLogLevels, ", "), cfg.Service.LogLevel)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Sessions.Root == "" {
		return fmt.Errorf("sessions.root is required")
	}
	if cfg.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}

	switch cfg.Agent.Strategy {
	case StrategyCLI:
		if cfg.Agent.Command == "" {
			return fmt.Errorf("agent.command is required for the cli strategy")
		}
	case StrategyConversation:
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the conversation strategy")
		}
		if err := unresolved("llm.api_key", cfg.LLM.APIKey); err != nil {
			return err
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required for the conversation strategy")
		}
	default:
		return fmt.Errorf("agent.strategy must be %q or %q (got %q)", StrategyCLI, StrategyConversation, cfg.Agent.Strategy)
	}
	if cfg.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	if cfg.Agent.MinOutputBytes < 0 {
		return fmt.Errorf("agent.min_output_bytes must not be negative")
	}

	c := cfg.Conversation
	if c.MaxInputTokens > 0 && c.WarnInputTokens > c.MaxInputTokens {
		return fmt.Errorf("conversation.warn_input_tokens must not exceed max_input_tokens")
	}

	if cfg.Cooldown.Mention < 0 || cfg.Cooldown.Auto < 0 {
		return fmt.Errorf("cooldown windows must not be negative")
	}
	if cfg.Cooldown.Auto < cfg.Cooldown.Mention {
		return fmt.Errorf("cooldown.auto (%s) must be at least cooldown.mention (%s)", cfg.Cooldown.Auto, cfg.Cooldown.Mention)
	}

	if cfg.Scheduler.Enabled {
		if cfg.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler.interval must be positive")
		}
		if cfg.Scheduler.MaxPerSweep <= 0 {
			return fmt.Errorf("scheduler.max_per_sweep must be positive")
		}
	}
	for _, p := range cfg.Scheduler.Passes {
		switch p {
		case PassResearch, PassPlanning, PassImplementation:
		default:
			return fmt.Errorf("scheduler.passes: unknown pass %q", p)
		}
	}

	switch cfg.Completion.Delivery {
	case DeliveryInProcess:
	case DeliveryHTTP:
		if cfg.Completion.URL == "" {
			return fmt.Errorf("completion.url is required for http delivery")
		}
		if err := unresolved("completion.token", cfg.Completion.Token); err != nil {
			return err
		}
	default:
		return fmt.Errorf("completion.delivery must be %q or %q (got %q)", DeliveryInProcess, DeliveryHTTP, cfg.Completion.Delivery)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the api is enabled")
		}
		if len(cfg.API.Tokens) == 0 {
			return fmt.Errorf("api.tokens must be non-empty when the api is enabled")
		}
		for i, tok := range cfg.API.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.tokens[%d].token is required", i)
			}
			if err := unresolved(fmt.Sprintf("api.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.tokens[%d].scopes must be non-empty", i)
			}
		}
	}

	seenPaths := map[string]bool{}
	for i, ep := range cfg.Webhooks.Endpoints {
		if ep.Name == "" || ep.Path == "" {
			return fmt.Errorf("webhooks.endpoints[%d]: name and path are required", i)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d].path must start with /", i)
		}
		if seenPaths[ep.Path] {
			return fmt.Errorf("webhooks.endpoints[%d]: duplicate path %q", i, ep.Path)
		}
		seenPaths[ep.Path] = true
		if ep.Secret == "" {
			return fmt.Errorf("webhooks.endpoints[%d].secret is required", i)
		}
		if err := unresolved(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret); err != nil {
			return err
		}
	}

	seenProjects := map[string]bool{}
	for i, p := range cfg.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d].id is required", i)
		}
		if seenProjects[p.ID] {
			return fmt.Errorf("projects[%d]: duplicate id %q", i, p.ID)
		}
		seenProjects[p.ID] = true
		if p.MainRepo == "" {
			return fmt.Errorf("projects[%d].main_repo is required", i)
		}
	}
	return nil
}
