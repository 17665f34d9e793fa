package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the fact-checking system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, openai-compatible
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
	Reasoning       bool    `mapstructure:"reasoning"` // disallows system role, emits reasoning_content
	Streaming       bool    `mapstructure:"streaming"`
}

// LLMRoutingConfig defines which model to use for each stage
type LLMRoutingConfig struct {
	Metadata   string `mapstructure:"metadata"`   // metadata + knowledge extraction
	Extraction string `mapstructure:"extraction"` // check point extraction
	Search     string `mapstructure:"search"`     // searcher evaluate/answer calls
	Evaluation string `mapstructure:"evaluation"` // retrieval result verification
	Reporting  string `mapstructure:"reporting"`  // final report
	Repair     string `mapstructure:"repair"`     // cheap structured-output fix-up
	Fallback   string `mapstructure:"fallback"`
}

// ModelFor resolves a stage to a configured model key, falling back when unset.
func (r LLMRoutingConfig) ModelFor(stage string) string {
	m := map[string]string{
		"metadata":   r.Metadata,
		"extraction": r.Extraction,
		"search":     r.Search,
		"evaluation": r.Evaluation,
		"reporting":  r.Reporting,
		"repair":     r.Repair,
	}[stage]
	if m == "" {
		m = r.Fallback
	}
	return m
}

// ToolsConfig configures the built-in tool set
type ToolsConfig struct {
	GoogleAPIKey    string        `mapstructure:"google_api_key"`
	GoogleCX        string        `mapstructure:"google_cx"`
	TavilyAPIKey    string        `mapstructure:"tavily_api_key"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
	RenderTimeout   time.Duration `mapstructure:"render_timeout"`
	MaxFetchChars   int           `mapstructure:"max_fetch_chars"`
	MaxPDFPageSpan  int           `mapstructure:"max_pdf_page_span"`
	DefaultLanguage string        `mapstructure:"default_language"`
}

// AgentsConfig contains orchestration limits
type AgentsConfig struct {
	MaxRetries             int   `mapstructure:"max_retries"`
	MaxSearchTokens        int64 `mapstructure:"max_search_tokens"`
	MaxConcurrentSearchers int   `mapstructure:"max_concurrent_searchers"`
	ParserFixAttempts      int   `mapstructure:"parser_fix_attempts"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres     PostgresConfig `mapstructure:"postgres"`
	Redis        RedisConfig    `mapstructure:"redis"`
	Checkpointer string         `mapstructure:"checkpointer"` // memory or redis
}

// PostgresConfig contains graph store connection settings
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

// DSN builds a connection string from either the URL or discrete fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" && strings.TrimSpace(p.DBName) == "" {
		// graph persistence disabled entirely
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when host is provided")
	}
	return nil
}

// RedisConfig contains checkpointer connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from file with VERITAS_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", 60*time.Second)
	v.SetDefault("server.address", ":10010")
	v.SetDefault("tools.search_timeout", 10*time.Second)
	v.SetDefault("tools.render_timeout", 10*time.Second)
	v.SetDefault("tools.max_fetch_chars", 20000)
	v.SetDefault("tools.max_pdf_page_span", 5)
	v.SetDefault("tools.default_language", "en")
	v.SetDefault("agents.max_retries", 1)
	v.SetDefault("agents.max_search_tokens", 50000)
	v.SetDefault("agents.max_concurrent_searchers", 5)
	v.SetDefault("agents.parser_fix_attempts", 3)
	v.SetDefault("storage.checkpointer", "memory")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("VERITAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// config file is optional; env + defaults carry non-file deployments
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
