package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Agents     AgentsConfig     `mapstructure:"agents"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Session    SessionConfig    `mapstructure:"session"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	MigrationsDir string `mapstructure:"migrations_dir"`
	AutoMigrate   bool   `mapstructure:"auto_migrate"`
}

// LLMConfig selects the active provider and holds per-provider settings.
type LLMConfig struct {
	Provider  string                 `mapstructure:"provider"`
	Providers map[string]LLMProvider `mapstructure:"providers"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai, anthropic, gemini, bedrock
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Region      string        `mapstructure:"region"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Active returns the provider selected by llm.provider.
func (l LLMConfig) Active() (LLMProvider, error) {
	name := strings.TrimSpace(l.Provider)
	if name == "" {
		return LLMProvider{}, fmt.Errorf("llm.provider is required")
	}
	p, ok := l.Providers[name]
	if !ok {
		return LLMProvider{}, fmt.Errorf("llm.providers.%s not configured", name)
	}
	if p.Type == "" {
		p.Type = name
	}
	return p, nil
}

// Validate checks the active provider has what it needs to be built.
func (l LLMConfig) Validate() error {
	p, err := l.Active()
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("llm.providers.%s.model is required", l.Provider)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("llm.providers.%s.max_tokens cannot be negative", l.Provider)
	}
	return nil
}

// AgentsConfig controls the plan/execute loop.
type AgentsConfig struct {
	PlannerTimeout time.Duration `mapstructure:"planner_timeout"`
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`
	MaxSteps       int           `mapstructure:"max_steps"`
	MaxReplans     int           `mapstructure:"max_replans"`
}

// Normalize applies defaults for unset loop values.
func (a AgentsConfig) Normalize() AgentsConfig {
	if a.PlannerTimeout <= 0 {
		a.PlannerTimeout = 60 * time.Second
	}
	if a.StepTimeout <= 0 {
		a.StepTimeout = 60 * time.Second
	}
	if a.ToolTimeout <= 0 {
		a.ToolTimeout = 15 * time.Second
	}
	if a.MaxSteps <= 0 {
		a.MaxSteps = 20
	}
	return a
}

func (a AgentsConfig) Validate() error {
	if a.MaxReplans < 0 {
		return fmt.Errorf("agents.max_replans cannot be negative")
	}
	return nil
}

// ToolsConfig configures the built-in tool backends.
type ToolsConfig struct {
	NodeRED       NodeREDConfig   `mapstructure:"node_red"`
	Jokes         JokesConfig     `mapstructure:"jokes"`
	Knowledge     KnowledgeConfig `mapstructure:"knowledge"`
	Disabled      []string        `mapstructure:"disabled"`
	ProbeSchedule string          `mapstructure:"probe_schedule"`
	Retries       int             `mapstructure:"retries"`
}

// NodeREDConfig points at the flow engine exposing the temperature database.
type NodeREDConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JokesConfig points at the joke API.
type JokesConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KnowledgeConfig selects the retrieval backend: "r2r" or "local".
type KnowledgeConfig struct {
	Backend    string        `mapstructure:"backend"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	LocalDir   string        `mapstructure:"local_dir"`
	TopK       int           `mapstructure:"top_k"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (t ToolsConfig) Validate() error {
	switch t.Knowledge.Backend {
	case "r2r":
		if strings.TrimSpace(t.Knowledge.BaseURL) == "" {
			return fmt.Errorf("tools.knowledge.base_url required for r2r backend")
		}
	case "local", "":
	default:
		return fmt.Errorf("tools.knowledge.backend must be r2r or local, got %q", t.Knowledge.Backend)
	}
	if t.Knowledge.TopK < 0 {
		return fmt.Errorf("tools.knowledge.top_k cannot be negative")
	}
	return nil
}

// CapabilityConfig controls descriptor signing for the tool registry.
type CapabilityConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

// SessionConfig controls conversation history retention.
type SessionConfig struct {
	Backend     string        `mapstructure:"backend"` // redis or memory
	MaxMessages int           `mapstructure:"max_messages"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether Postgres persistence was configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if !p.Enabled() || strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name must be set when telemetry is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 30*time.Second)
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.migrations_dir", "file://migrations")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.max_tokens", 1024)
	v.SetDefault("llm.providers.openai.timeout", 60*time.Second)
	v.SetDefault("agents.planner_timeout", 60*time.Second)
	v.SetDefault("agents.step_timeout", 60*time.Second)
	v.SetDefault("agents.tool_timeout", 15*time.Second)
	v.SetDefault("agents.max_steps", 20)
	v.SetDefault("agents.max_replans", 0)
	v.SetDefault("tools.node_red.base_url", "http://127.0.0.1:1880")
	v.SetDefault("tools.node_red.timeout", 10*time.Second)
	v.SetDefault("tools.jokes.base_url", "https://api.chucknorris.io")
	v.SetDefault("tools.jokes.timeout", 10*time.Second)
	v.SetDefault("tools.knowledge.backend", "local")
	v.SetDefault("tools.knowledge.top_k", 5)
	v.SetDefault("tools.knowledge.timeout", 20*time.Second)
	v.SetDefault("tools.probe_schedule", "*/5 * * * *")
	v.SetDefault("tools.retries", 1)
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.max_messages", 10)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("telemetry.service_name", "replanner")
}

// Load reads the config file at path (or searches the usual locations)
// and overlays REPLANNER_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("REPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (REPLANNER_*)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Agents = cfg.Agents.Normalize()

	for _, validate := range []func() error{
		cfg.LLM.Validate,
		cfg.Agents.Validate,
		cfg.Tools.Validate,
		cfg.Storage.Postgres.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
