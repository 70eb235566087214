package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ai_gateway/internal/models"
)

// Fallback stages understood by the router.
const (
	StageNodes = "nodes"
	StageCloud = "cloud"
	StageMock  = "mock"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	JWTSecret     []byte
	EncryptionKey string
	ConfigFile    string
	Database      DatabaseConfig
	Cache         CacheConfig
	Redis         RedisConfig
	Provider      ProviderConfig
	Routing       RoutingConfig
	Health        HealthConfig
	Usage         UsageConfig
	Archive       ArchiveConfig
	Logging       LoggingConfig
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings for encrypted credential records.
type CacheConfig struct {
	CredentialTTL   time.Duration
	CleanupInterval time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables
// the Redis usage queue and the health fan-out.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	HealthTopic  string
}

// ProviderConfig holds provider-related settings
type ProviderConfig struct {
	RequestTimeout time.Duration // Upper bound for any single provider call
	Cloud          []CloudProviderConfig
}

// CloudProviderConfig describes one cloud API the gateway may route to.
type CloudProviderConfig struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	BaseURL      string   `yaml:"base_url"`
	DefaultModel string   `yaml:"default_model"`
	Models       []string `yaml:"models"`
	APIKeyEnv    string   `yaml:"api_key_env"`
}

// SystemAPIKey reads the deployment-wide fallback key, if any.
func (c CloudProviderConfig) SystemAPIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// RoutingConfig is the hot-reloadable part of the configuration.
type RoutingConfig struct {
	DefaultProvider string
	DefaultModel    string
	FallbackOrder   []string
	MaxAttempts     int
	MockEnabled     bool
}

// HealthConfig controls node probing.
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// UsageConfig controls the usage queue and its worker.
type UsageConfig struct {
	QueueName      string
	BatchSize      int
	FlushInterval  time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	EnqueueTimeout time.Duration
}

// ArchiveConfig holds configuration for the optional S3 usage archive.
type ArchiveConfig struct {
	Enabled  bool   // Whether to archive usage batches to S3
	Bucket   string // S3 bucket name
	Region   string // AWS region
	Prefix   string // Prefix for S3 keys (e.g., "usage/")
	Endpoint string // Custom endpoint for S3-compatible stores
	PodName  string // Pod identifier for multi-pod deployments

	// Static credentials for S3-compatible stores; empty uses the AWS chain
	AccessKeyID     string
	SecretAccessKey string
}

// LoggingConfig is passed to logging.Setup.
type LoggingConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultCloudProviders is used when no configuration file lists providers.
func DefaultCloudProviders() []CloudProviderConfig {
	return []CloudProviderConfig{
		{
			Name:         "openai",
			Type:         "openai",
			BaseURL:      envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			DefaultModel: envString("OPENAI_DEFAULT_MODEL", "gpt-4o-mini"),
			APIKeyEnv:    "OPENAI_API_KEY",
		},
		{
			Name:         "gemini",
			Type:         "gemini",
			BaseURL:      envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			DefaultModel: envString("GEMINI_DEFAULT_MODEL", "gemini-1.5-flash"),
			APIKeyEnv:    "GEMINI_API_KEY",
		},
	}
}

// Load reads configuration from a .env file (if present), environment
// variables, and the optional YAML file named by GATEWAY_CONFIG_FILE.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	cfg := &Config{
		HTTPPort:      envString("HTTP_PORT", "8080"),
		JWTSecret:     []byte(envString("JWT_SECRET", "supersecretkey")),
		EncryptionKey: encryptionKey,
		ConfigFile:    os.Getenv("GATEWAY_CONFIG_FILE"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			CredentialTTL:   envDuration("CACHE_CREDENTIAL_TTL", 5*time.Minute),
			CleanupInterval: envDuration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Redis: RedisConfig{
			Address:      os.Getenv("REDIS_ADDRESS"),
			Password:     envString("REDIS_PASSWORD", ""),
			DB:           envInt("REDIS_DB", 0),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			HealthTopic:  envString("REDIS_HEALTH_TOPIC", "gateway:nodes:health"),
		},
		Provider: ProviderConfig{
			RequestTimeout: envDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
			Cloud:          DefaultCloudProviders(),
		},
		Routing: RoutingConfig{
			DefaultProvider: envString("DEFAULT_PROVIDER", "openai"),
			DefaultModel:    os.Getenv("DEFAULT_MODEL"),
			FallbackOrder:   envList("ROUTING_FALLBACK_ORDER", []string{StageNodes, StageCloud, StageMock}),
			MaxAttempts:     envInt("ROUTING_MAX_ATTEMPTS", 3),
			MockEnabled:     envBool("MOCK_ENABLED", true),
		},
		Health: HealthConfig{
			Interval: envDuration("NODE_HEALTH_INTERVAL", 30*time.Second),
			Timeout:  envDuration("NODE_HEALTH_TIMEOUT", 5*time.Second),
		},
		Usage: UsageConfig{
			QueueName:      envString("USAGE_QUEUE_NAME", "usage"),
			BatchSize:      envInt("USAGE_BATCH_SIZE", 100),
			FlushInterval:  envDuration("USAGE_FLUSH_INTERVAL", 5*time.Second),
			MaxRetries:     envInt("USAGE_MAX_RETRIES", 3),
			RetryBackoff:   envDuration("USAGE_RETRY_BACKOFF", time.Second),
			EnqueueTimeout: envDuration("USAGE_ENQUEUE_TIMEOUT", time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:  envBool("USAGE_ARCHIVE_ENABLED", false),
			Bucket:   envString("USAGE_ARCHIVE_S3_BUCKET", ""),
			Region:   envString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			Prefix:   envString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			Endpoint: envString("USAGE_ARCHIVE_S3_ENDPOINT", ""),
			PodName:  envString("POD_NAME", "gateway-0"),

			AccessKeyID:     os.Getenv("USAGE_ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("USAGE_ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		Logging: LoggingConfig{
			Level:      envString("LOG_LEVEL", "info"),
			Format:     envString("LOG_FORMAT", "text"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 30),
		},
	}

	if cfg.ConfigFile != "" {
		file, err := ReadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Provider.Cloud))
	for _, p := range c.Provider.Cloud {
		if p.Name == "" {
			return fmt.Errorf("cloud provider name is required")
		}
		if !models.ValidProviderName(p.Name) {
			return fmt.Errorf("cloud provider name %q must match [a-z][a-z0-9_-]* and not be %q or %q", p.Name, models.ClientPrefix, models.MockPrefix)
		}
		if names[p.Name] {
			return fmt.Errorf("cloud provider %q is configured twice", p.Name)
		}
		names[p.Name] = true
		if p.Type != "openai" && p.Type != "gemini" {
			return fmt.Errorf("cloud provider %q has unsupported type %q", p.Name, p.Type)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("cloud provider %q needs a base_url", p.Name)
		}
	}
	if c.Routing.DefaultProvider != "" && !names[c.Routing.DefaultProvider] {
		return fmt.Errorf("default provider %q is not configured", c.Routing.DefaultProvider)
	}
	if err := c.Routing.Validate(); err != nil {
		return err
	}
	if c.Provider.RequestTimeout <= 0 {
		return fmt.Errorf("provider request timeout must be positive")
	}
	if c.Health.Interval <= 0 || c.Health.Timeout <= 0 {
		return fmt.Errorf("node health interval and timeout must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when the archive is enabled")
	}
	return nil
}

// Validate checks the routing section on its own, as hot reloads do.
func (r RoutingConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("routing max attempts must be at least 1")
	}
	if len(r.FallbackOrder) == 0 {
		return fmt.Errorf("routing fallback order must not be empty")
	}
	seen := make(map[string]bool, len(r.FallbackOrder))
	for _, stage := range r.FallbackOrder {
		switch stage {
		case StageNodes, StageCloud, StageMock:
		default:
			return fmt.Errorf("unknown fallback stage %q", stage)
		}
		if seen[stage] {
			return fmt.Errorf("fallback stage %q listed twice", stage)
		}
		seen[stage] = true
	}
	return nil
}
