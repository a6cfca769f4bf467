package config

import "time"

// Config represents the complete switchyard configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Database     DatabaseConfig     `yaml:"database"`
	Workspace    WorkspaceConfig    `yaml:"workspace"`
	Sessions     SessionsConfig     `yaml:"sessions"`
	Agent        AgentConfig        `yaml:"agent"`
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	Cooldown     CooldownConfig     `yaml:"cooldown"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Router       RouterConfig       `yaml:"router"`
	Completion   CompletionConfig   `yaml:"completion"`
	API          APIConfig          `yaml:"api"`
	Webhooks     WebhooksConfig     `yaml:"webhooks"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Integrity    IntegrityConfig    `yaml:"integrity"`
	Projects     []ProjectConfig    `yaml:"projects"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// StateDir holds the PID lock.
	StateDir string `yaml:"state_dir"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type WorkspaceConfig struct {
	// Root is where per-ticket worktrees are created, one directory per project.
	Root         string   `yaml:"root"`
	BranchPrefix string   `yaml:"branch_prefix"`
	EnvFiles     []string `yaml:"env_files"`
}

type SessionsConfig struct {
	Root string `yaml:"root"`
}

// Agent strategies.
const (
	StrategyCLI          = "cli"
	StrategyConversation = "conversation"
)

// AgentConfig controls how the external agent process is launched.
type AgentConfig struct {
	Strategy       string            `yaml:"strategy"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	Timeout        time.Duration     `yaml:"timeout"`
	Grace          time.Duration     `yaml:"grace"`
	MinOutputBytes int               `yaml:"min_output_bytes"`
	OutputCapBytes int               `yaml:"output_cap_bytes"`
}

type ConversationConfig struct {
	MaxTurns           int      `yaml:"max_turns"`
	MaxTokens          int      `yaml:"max_tokens"`
	WarnInputTokens    int      `yaml:"warn_input_tokens"`
	MaxInputTokens     int      `yaml:"max_input_tokens"`
	ToolResultBytes    int      `yaml:"tool_result_bytes"`
	CompletionPatterns []string `yaml:"completion_patterns"`
}

type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type CooldownConfig struct {
	Mention    time.Duration `yaml:"mention"`
	Auto       time.Duration `yaml:"auto"`
	// MaxEntries is the table size at which expired entries are pruned.
	MaxEntries int `yaml:"max_entries"`
}

// Scheduler passes.
const (
	PassResearch       = "research"
	PassPlanning       = "planning"
	PassImplementation = "implementation"
)

type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	MaxPerSweep int           `yaml:"max_per_sweep"`
	MaxInFlight int           `yaml:"max_in_flight"`
	QuietPeriod time.Duration `yaml:"quiet_period"`
	Passes      []string      `yaml:"passes"`
}

type RouterConfig struct {
	ExcerptChars   int  `yaml:"excerpt_chars"`
	RecentComments int  `yaml:"recent_comments"`
	Acknowledge    bool `yaml:"acknowledge"`
}

// Completion delivery modes.
const (
	DeliveryInProcess = "inprocess"
	DeliveryHTTP      = "http"
)

type CompletionConfig struct {
	Delivery string `yaml:"delivery"`
	// URL and Token are used by the http delivery mode.
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	PauseTTL time.Duration `yaml:"pause_ttl"`
	// ErrorPatterns are matched case-insensitively against agent output and
	// stderr; a hit pauses dispatching instead of posting the output.
	ErrorPatterns []string `yaml:"error_patterns"`
}

type APIConfig struct {
	Enabled bool       `yaml:"enabled"`
	Listen  string     `yaml:"listen"`
	Tokens  []APIToken `yaml:"tokens"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Name   string   `yaml:"name"`
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

type WebhookEndpoint struct {
	Name            string `yaml:"name"`
	Path            string `yaml:"path"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     int64  `yaml:"max_body_size"`
}

type CatalogConfig struct {
	Roots []string `yaml:"roots"`
	Watch bool     `yaml:"watch"`
}

type IntegrityConfig struct {
	Strict bool `yaml:"strict"`
}

// ProjectConfig seeds a project into the record store at startup.
type ProjectConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	RootDir  string `yaml:"root_dir"`
	MainRepo string `yaml:"main_repo"`
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "switchyard",
			LogLevel: "info",
			StateDir: "./data",
		},
		Database:  DatabaseConfig{Path: "./data/switchyard.db"},
		Workspace: WorkspaceConfig{Root: "./worktrees", BranchPrefix: "ticket/", EnvFiles: []string{".env", ".env.local"}},
		Sessions:  SessionsConfig{Root: "./sessions"},
		Agent: AgentConfig{
			Strategy:       StrategyCLI,
			Command:        "claude",
			Args:           []string{"-p", "--output-format", "json"},
			Timeout:        30 * time.Minute,
			Grace:          5 * time.Second,
			MinOutputBytes: 50,
			OutputCapBytes: 1 << 20,
		},
		Conversation: ConversationConfig{
			MaxTurns:        40,
			MaxTokens:       8192,
			WarnInputTokens: 150_000,
			MaxInputTokens:  190_000,
			ToolResultBytes: 8 << 10,
			CompletionPatterns: []string{
				"ready for approval",
				"moved ticket to verification",
				"implementation complete",
			},
		},
		LLM: LLMConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-sonnet-4-5",
			Timeout: 5 * time.Minute,
		},
		Cooldown: CooldownConfig{Mention: 2 * time.Minute, Auto: 30 * time.Minute, MaxEntries: 10_000},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    time.Minute,
			MaxPerSweep: 8,
			MaxInFlight: 3,
			QuietPeriod: 20 * time.Minute,
			Passes:      []string{PassResearch, PassPlanning, PassImplementation},
		},
		Router:     RouterConfig{ExcerptChars: 2000, RecentComments: 10, Acknowledge: true},
		Completion: CompletionConfig{
			Delivery: DeliveryInProcess,
			PauseTTL: 0,
			ErrorPatterns: []string{
				"rate limit",
				"usage limit reached",
				"quota exceeded",
				"credit balance is too low",
				"invalid api key",
				"oauth token has expired",
				"please run /login",
			},
		},
		API:      APIConfig{Enabled: false, Listen: "127.0.0.1:8411"},
		Webhooks: WebhooksConfig{Listen: "127.0.0.1:8412"},
	}
}
