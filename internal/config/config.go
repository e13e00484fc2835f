package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "GAMEHUB_"

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Redis       RedisConfig       `yaml:"redis" envPrefix:"REDIS_"`
	Postgres    PostgresConfig    `yaml:"postgres" envPrefix:"POSTGRES_"`
	Kafka       KafkaConfig       `yaml:"kafka" envPrefix:"KAFKA_"`
	Registry    RegistryConfig    `yaml:"registry" envPrefix:"REGISTRY_"`
	Auth        AuthConfig        `yaml:"auth" envPrefix:"AUTH_"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking" envPrefix:"MATCHMAKING_"`
	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" env:"PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration for server heartbeats
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" env:"BROKERS"`
	Topic         string        `yaml:"topic" env:"TOPIC"`
	GroupID       string        `yaml:"group_id" env:"GROUP_ID"`
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	StartupTimeout time.Duration `yaml:"startup_timeout" env:"STARTUP_TIMEOUT"`
	// RetryAttempts is how many more times a heartbeat is published after a
	// store failure; RetryDelay separates the attempts.
	RetryAttempts int           `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// RegistryConfig holds game server registry configuration
type RegistryConfig struct {
	KeyPrefix     string        `yaml:"key_prefix"`
	IndexKey      string        `yaml:"index_key"`
	ServerTTL     time.Duration `yaml:"server_ttl" env:"SERVER_TTL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// SweepDisabled turns off pruning of expired index entries. Sweeping is
	// on unless explicitly disabled.
	SweepDisabled bool `yaml:"sweep_disabled" env:"SWEEP_DISABLED"`
}

// AuthConfig holds bearer credential configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
	// TokenTTL is the lifetime of tokens minted by this deployment's issuers
	TokenTTL     time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	OperatorRole string        `yaml:"operator_role" env:"OPERATOR_ROLE"`
}

// MatchmakingConfig holds matchmaking configuration
type MatchmakingConfig struct {
	// DefaultRank is the rank id assumed for accounts without a rank.
	DefaultRank int `yaml:"default_rank" env:"DEFAULT_RANK"`
}

// StoreConfig bounds every call to a backing store
type StoreConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnv overrides file values with GAMEHUB_* environment variables
func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "server-heartbeats"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "gamehub-registry"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}
	if c.Kafka.StartupTimeout == 0 {
		c.Kafka.StartupTimeout = 30 * time.Second
	}

	// Registry defaults
	if c.Registry.KeyPrefix == "" {
		c.Registry.KeyPrefix = "gameserver:"
	}
	if c.Registry.IndexKey == "" {
		c.Registry.IndexKey = "gameservers"
	}
	if c.Registry.ServerTTL == 0 {
		c.Registry.ServerTTL = 60 * time.Second
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = 30 * time.Second
	}

	// Auth defaults
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "gamehub"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 1 * time.Hour
	}
	if c.Auth.OperatorRole == "" {
		c.Auth.OperatorRole = "Dedicated Game Server"
	}

	// Matchmaking defaults
	if c.Matchmaking.DefaultRank == 0 {
		c.Matchmaking.DefaultRank = 2
	}

	// Store defaults
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 3 * time.Second
	}
}

// Validate reports configuration that cannot work at runtime
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Matchmaking.DefaultRank < 1 {
		return fmt.Errorf("matchmaking.default_rank must be positive")
	}
	if !c.Registry.SweepDisabled && c.Registry.SweepInterval <= 0 {
		return fmt.Errorf("registry.sweep_interval must be positive")
	}
	return nil
}

// DefaultConfig returns a configuration with all defaults and the
// GAMEHUB_* environment overrides applied
func DefaultConfig() (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}
