package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Cache    CacheConfig
	Store    StoreConfig
	Accounts AccountsConfig
	Buffer   BufferConfig
	Registry RegistryConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name         string `envconfig:"APP_NAME" default:"wex-mcp-api"`
	Environment  string `envconfig:"APP_ENV" default:"development"`
	Debug        bool   `envconfig:"APP_DEBUG" default:"false"`
	Version      string `envconfig:"APP_VERSION" default:"1.0.0"`
	GameplayFile string `envconfig:"GAMEPLAY_FILE" default:"./config.toml"`
}

// CacheConfig holds the account lookup cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"1m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// StoreConfig selects the document store for profiles, friend graphs and accounts.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mongodb or memory
	Path string `envconfig:"STORE_PATH" default:"./data/wex.db"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"wex"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"wex"`
}

// AccountsConfig points at an optional external MySQL account directory.
// When Host is empty the document store's own account table is used.
type AccountsConfig struct {
	Host     string `envconfig:"ACCOUNTS_DB_HOST" default:""`
	Port     int    `envconfig:"ACCOUNTS_DB_PORT" default:"3306"`
	Name     string `envconfig:"ACCOUNTS_DB_NAME" default:"wex"`
	User     string `envconfig:"ACCOUNTS_DB_USER" default:"root"`
	Password string `envconfig:"ACCOUNTS_DB_PASS" default:""`
}

// BufferConfig enables the Redis write-behind buffer.
type BufferConfig struct {
	Enabled       bool          `envconfig:"BUFFER_ENABLED" default:"false"`
	FlushInterval time.Duration `envconfig:"BUFFER_FLUSH_INTERVAL" default:"5s"`
	RedisDB       int           `envconfig:"BUFFER_REDIS_DB" default:"1"`
	KeyPrefix     string        `envconfig:"BUFFER_KEY_PREFIX" default:"wex:documents"`
}

// RegistryConfig controls eviction of idle accounts from memory.
type RegistryConfig struct {
	IdleThreshold time.Duration `envconfig:"REGISTRY_IDLE_THRESHOLD" default:"30m"`
	SweepInterval time.Duration `envconfig:"REGISTRY_SWEEP_INTERVAL" default:"1m"`
}

// AuthConfig holds API key settings. An empty key list disables the check.
type AuthConfig struct {
	APIKeys  []string `envconfig:"API_KEYS" default:""`
	AdminKey string   `envconfig:"ADMIN_KEY" default:""`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Enabled reports whether an external account directory is configured.
func (a *AccountsConfig) Enabled() bool {
	return a.Host != ""
}

// DSN returns the MySQL data source name.
func (a *AccountsConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		a.User, a.Password, a.Host, a.Port, a.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Keys returns the configured API keys without blanks.
func (a *AuthConfig) Keys() []string {
	keys := make([]string, 0, len(a.APIKeys))
	for _, k := range a.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects unknown driver names and unsafe production settings.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "sqlite", "postgres", "mongodb", "memory":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.Store.Type)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}
	if c.Store.Type == "mongodb" && c.Store.MongoURI == "" {
		return fmt.Errorf("MONGODB_URI is required when STORE_TYPE=mongodb")
	}
	if c.App.IsProduction() {
		if c.Store.Type == "memory" {
			return fmt.Errorf("STORE_TYPE=memory is not allowed in production")
		}
		if len(c.Auth.Keys()) == 0 {
			return fmt.Errorf("API_KEYS is required in production")
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
