package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/trial-matcher-server/internal/domain"
)

// EnvPrefix namespaces environment overrides, e.g. TRIAL_MATCHER_SERVER_PORT.
const EnvPrefix = "TRIAL_MATCHER"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerWithViper(viper.New())
}

// NewManagerWithViper loads configuration through v, which may already carry
// bound command-line flags or an explicit config file.
func NewManagerWithViper(v *viper.Viper) (*Manager, error) {
	m := &Manager{v: v}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// Viper exposes the underlying instance for flag binding.
func (m *Manager) Viper() *viper.Viper {
	return m.v
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := m.v
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/trial-matcher/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.examples_dir", "examples")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "trials")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Embedding defaults
	v.SetDefault("embedding.base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimension", domain.DefaultEmbeddingDimension)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.cache_size", 1024)

	// Rationale defaults
	v.SetDefault("rationale.enabled", true)
	v.SetDefault("rationale.provider", domain.RationaleProviderOllama)
	v.SetDefault("rationale.base_url", "http://localhost:11434/v1")
	v.SetDefault("rationale.model", "llama3.1:instruct")
	v.SetDefault("rationale.temperature", 0.2)
	v.SetDefault("rationale.max_tokens", 512)
	v.SetDefault("rationale.timeout", "60s")
	v.SetDefault("rationale.cache_ttl", "24h")

	// ClinicalTrials.gov defaults
	v.SetDefault("ctgov.base_url", "https://beta-ut.clinicaltrials.gov/api/v2")
	v.SetDefault("ctgov.statuses", []string{"RECRUITING", "NOT_YET_RECRUITING"})
	v.SetDefault("ctgov.page_size", 100)
	v.SetDefault("ctgov.max_pages", 1)
	v.SetDefault("ctgov.rate_limit", 5)
	v.SetDefault("ctgov.page_delay", "200ms")
	v.SetDefault("ctgov.timeout", "60s")
	v.SetDefault("ctgov.default_condition", "lymphoma")
	v.SetDefault("ctgov.default_country", "United States")
	v.SetDefault("ctgov.batch_size", 200)
	v.SetDefault("ctgov.workers", 2)
	v.SetDefault("ctgov.refresh_on_empty", true)

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "trial-matcher")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.request_timeout", "300s")
	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.http_port", 8081)
	v.SetDefault("mcp.export_dir", "exports")

	// Matching defaults
	v.SetDefault("matching.default_top_k", 10)
	v.SetDefault("matching.max_top_k", 50)
	v.SetDefault("matching.notes_preview_chars", 800)
	v.SetDefault("matching.use_memory_store", false)

	// Feedback defaults
	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.driver", domain.FeedbackDriverPostgres)
	v.SetDefault("feedback.sqlite_path", "")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the server cannot start with.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	needsPostgres := !config.Matching.UseMemoryStore ||
		(config.Feedback.Enabled && config.Feedback.Driver == domain.FeedbackDriverPostgres)
	if needsPostgres {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive: %d", config.Embedding.Dimension)
	}
	if config.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding base URL is required")
	}

	if config.Rationale.Enabled {
		switch config.Rationale.Provider {
		case domain.RationaleProviderOllama:
		case domain.RationaleProviderGemini:
			if config.Rationale.APIKey == "" {
				return fmt.Errorf("rationale api key is required for provider %q", config.Rationale.Provider)
			}
		default:
			return fmt.Errorf("invalid rationale provider: %s", config.Rationale.Provider)
		}
	}

	if config.Matching.DefaultTopK <= 0 {
		return fmt.Errorf("matching default_top_k must be positive: %d", config.Matching.DefaultTopK)
	}
	if config.Matching.MaxTopK > 0 && config.Matching.DefaultTopK > config.Matching.MaxTopK {
		return fmt.Errorf("matching default_top_k %d exceeds max_top_k %d", config.Matching.DefaultTopK, config.Matching.MaxTopK)
	}

	if config.Feedback.Enabled {
		switch config.Feedback.Driver {
		case domain.FeedbackDriverPostgres:
		case domain.FeedbackDriverSQLite:
			if config.Feedback.SQLitePath == "" {
				return fmt.Errorf("feedback sqlite_path is required for the sqlite driver")
			}
		default:
			return fmt.Errorf("invalid feedback driver: %s", config.Feedback.Driver)
		}
	}

	switch config.MCP.Transport {
	case "", "stdio", "http":
	default:
		return fmt.Errorf("invalid mcp transport: %s", config.MCP.Transport)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.v.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
