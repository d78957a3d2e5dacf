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
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// IsDebug reports whether debug logging is on, either explicitly or via log_level.
func (g GeneralConfig) IsDebug() bool {
	return g.Debug || strings.EqualFold(g.LogLevel, "debug")
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ExposeErrors returns the underlying failure cause to the client instead
	// of the generic apology. Causes are always logged.
	ExposeErrors  bool   `mapstructure:"expose_errors"`
	SessionSecret string `mapstructure:"session_secret"`
	SessionCookie string `mapstructure:"session_cookie"`
}

// Normalize applies defaults for unset server values.
func (s ServerConfig) Normalize() ServerConfig {
	if strings.TrimSpace(s.Address) == "" {
		s.Address = ":8000"
	}
	s.AllowedOrigins = sanitizeOrigins(s.AllowedOrigins)
	if len(s.AllowedOrigins) == 0 {
		s.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if strings.TrimSpace(s.SessionCookie) == "" {
		s.SessionCookie = "rf_session"
	}
	return s
}

func (s ServerConfig) Validate() error {
	if err := validateOrigins(s.AllowedOrigins); err != nil {
		return err
	}
	if strings.TrimSpace(s.SessionSecret) != "" && len(s.SessionSecret) < 16 {
		return fmt.Errorf("server.session_secret must be at least 16 characters")
	}
	return nil
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	Type         string        `mapstructure:"type"` // openai
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Chat         LLMModel      `mapstructure:"chat"`
	Distill      LLMModel      `mapstructure:"distill"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// Normalize applies defaults for unset LLM values.
func (c LLMConfig) Normalize() LLMConfig {
	if strings.TrimSpace(c.Type) == "" {
		c.Type = "openai"
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.Chat.Name == "" {
		c.Chat.Name = "gpt-4o-mini"
	}
	if c.Distill.Name == "" {
		c.Distill.Name = "gpt-4o-mini"
	}
	return c
}

// Validate fails when the provider cannot be used at all. A missing API key
// is fatal at startup rather than a per-request error.
func (c LLMConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("llm.api_key required (or OPENAI_API_KEY)")
	}
	switch c.Type {
	case "openai":
	default:
		return fmt.Errorf("unsupported llm.type: %s", c.Type)
	}
	return nil
}

// ResearchConfig points at the deep-research service
type ResearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Breadth int           `mapstructure:"breadth"`
	Depth   int           `mapstructure:"depth"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset research values.
func (r ResearchConfig) Normalize() ResearchConfig {
	if strings.TrimSpace(r.BaseURL) == "" {
		r.BaseURL = "http://localhost:3051"
	}
	r.BaseURL = strings.TrimRight(r.BaseURL, "/")
	if r.Breadth <= 0 {
		r.Breadth = 1
	}
	if r.Depth <= 0 {
		r.Depth = 2
	}
	if r.Timeout <= 0 {
		r.Timeout = 10 * time.Minute
	}
	return r
}

// SessionConfig controls conversation storage
type SessionConfig struct {
	Store      string        `mapstructure:"store"` // inmemory, redis
	TTL        time.Duration `mapstructure:"ttl"`
	SweepCron  string        `mapstructure:"sweep_cron"`
	WorkerIdle time.Duration `mapstructure:"worker_idle"`
}

// Normalize applies defaults for unset session values.
func (s SessionConfig) Normalize() SessionConfig {
	if strings.TrimSpace(s.Store) == "" {
		s.Store = "inmemory"
	}
	if s.TTL <= 0 {
		s.TTL = 2 * time.Hour
	}
	if strings.TrimSpace(s.SweepCron) == "" {
		s.SweepCron = "*/5 * * * *"
	}
	if s.WorkerIdle <= 0 {
		s.WorkerIdle = 15 * time.Minute
	}
	return s
}

func (s SessionConfig) Validate() error {
	switch s.Store {
	case "inmemory", "redis":
		return nil
	default:
		return fmt.Errorf("unsupported session.store: %s", s.Store)
	}
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

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
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
	// Retention prunes archived turns older than this on every janitor
	// sweep. Zero keeps them forever.
	Retention time.Duration `mapstructure:"retention"`
}

// Enabled reports whether a transcript database was configured at all.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN builds a connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
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

// TelemetryConfig contains metrics and tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPath  string `mapstructure:"metrics_path"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Normalize applies defaults for unset telemetry values.
func (t TelemetryConfig) Normalize() TelemetryConfig {
	if t.MetricsPath == "" {
		t.MetricsPath = "/metrics"
	}
	if t.ServiceName == "" {
		t.ServiceName = "resourcefinder"
	}
	return t
}

// DefaultSystemPrompt frames the assistant for every new session.
const DefaultSystemPrompt = `You are a warm, patient assistant helping people experiencing homelessness find local resources such as shelter, food, healthcare and services.
Ask short clarifying questions about location, immediate needs, and circumstances (age, identity, veteran status, disability, family, urgency) when they are missing.
When you know enough to search, call the list_eligible_resources tool. Summarize the results in plain language with names, addresses, phone numbers, hours and eligibility, and never invent resources that were not in the results.`

// LoadConfig loads config from file, defaults and environment. The config file
// is optional; path forces a specific file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RESOURCEFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// env names used by existing deployments
	_ = v.BindEnv("llm.api_key", "RESOURCEFINDER_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("research.base_url", "RESOURCEFINDER_RESEARCH_BASE_URL", "DEEP_RESEARCH_API_URL")
	_ = v.BindEnv("general.log_level", "RESOURCEFINDER_GENERAL_LOG_LEVEL", "LOG_LEVEL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server = cfg.Server.Normalize()
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Research = cfg.Research.Normalize()
	cfg.Session = cfg.Session.Normalize()
	cfg.Telemetry = cfg.Telemetry.Normalize()
	return &cfg, nil
}

// Validate checks every section needed to serve traffic.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Session.Store == "redis" {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if _, err := ParseSweepCron(c.Session.SweepCron); err != nil {
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("llm.type", "openai")
	v.SetDefault("llm.chat.name", "gpt-4o-mini")
	v.SetDefault("llm.chat.temperature", 0.7)
	v.SetDefault("llm.chat.max_tokens", 1024)
	v.SetDefault("llm.distill.name", "gpt-4o-mini")
	v.SetDefault("llm.distill.temperature", 0.3)
	v.SetDefault("llm.distill.max_tokens", 200)
	v.SetDefault("research.base_url", "http://localhost:3051")
	v.SetDefault("research.breadth", 1)
	v.SetDefault("research.depth", 2)
	v.SetDefault("research.timeout", "10m")
	v.SetDefault("session.store", "inmemory")
	v.SetDefault("session.ttl", "2h")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("telemetry.enabled", true)
}
