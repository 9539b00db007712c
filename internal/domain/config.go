package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Rationale RationaleConfig `mapstructure:"rationale"`
	CTGov     CTGovConfig     `mapstructure:"ctgov"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Matching  MatchingConfig  `mapstructure:"matching"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// ExamplesDir holds patients/<id>.json and notes/<id>.txt for report pages.
	ExamplesDir string `mapstructure:"examples_dir"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// EmbeddingConfig configures the sentence embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
}

// Rationale providers.
const (
	RationaleProviderOllama = "ollama"
	RationaleProviderGemini = "gemini"
)

// RationaleConfig configures optional natural-language rationale generation.
type RationaleConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"` // "ollama", "gemini"
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// CTGovConfig represents ClinicalTrials.gov API configuration
type CTGovConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Statuses         []string      `mapstructure:"statuses"`
	PageSize         int           `mapstructure:"page_size"`
	MaxPages         int           `mapstructure:"max_pages"`
	RateLimit        int           `mapstructure:"rate_limit"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DefaultCondition string        `mapstructure:"default_condition"`
	DefaultCountry   string        `mapstructure:"default_country"`
	BatchSize        int           `mapstructure:"batch_size"`
	Workers          int           `mapstructure:"workers"`
	RefreshOnEmpty   bool          `mapstructure:"refresh_on_empty"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Transport      string        `mapstructure:"transport"` // "stdio", "http"
	HTTPPort       int           `mapstructure:"http_port"`
	ExportDir      string        `mapstructure:"export_dir"`
}

// MatchingConfig bounds match requests.
type MatchingConfig struct {
	DefaultTopK       int  `mapstructure:"default_top_k"`
	MaxTopK           int  `mapstructure:"max_top_k"`
	NotesPreviewChars int  `mapstructure:"notes_preview_chars"`
	UseMemoryStore    bool `mapstructure:"use_memory_store"`
}

// Feedback store drivers.
const (
	FeedbackDriverPostgres = "postgres"
	FeedbackDriverSQLite   = "sqlite"
)

// FeedbackConfig selects the coordinator feedback store.
type FeedbackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Driver     string `mapstructure:"driver"` // "postgres", "sqlite"
	SQLitePath string `mapstructure:"sqlite_path"`
}
