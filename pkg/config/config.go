package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// MikroTik's IANA enterprise number and its Mikrotik-Rate-Limit sub-attribute.
const (
	DefaultVendorID      = 14988
	DefaultRateLimitType = 8
)

// Config holds all configuration values loaded from environment variables
type Config struct {
	Env       string `env:"ENV, default=development"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	LogFile LogFileConfig
	Redis   RedisConfig
	Radius  RadiusConfig
	Session SessionConfig
	Storage StorageConfig
	Device  DeviceConfig
	Ops     OpsConfig
}

// LogFileConfig controls the optional rotated log file.
type LogFileConfig struct {
	Path       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB, default=100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS, default=7"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS, default=30"`
	Compress   bool   `env:"LOG_COMPRESS, default=false"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST, default=localhost"`
	Port     int    `env:"REDIS_PORT, default=6379" validate:"min=1,max=65535"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0" validate:"min=0"`
}

// Addr returns the host:port pair for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type RadiusConfig struct {
	AuthAddr string `env:"RADIUS_AUTH_ADDR, default=:1812" validate:"required"`
	AcctAddr string `env:"RADIUS_ACCT_ADDR, default=:1813" validate:"required"`
	Secret   string `env:"RADIUS_SECRET, default=testing123" validate:"required"`

	// ReplyPolicyFile points at an optional YAML file overriding Reply.
	ReplyPolicyFile string `env:"RADIUS_REPLY_POLICY"`
	Reply           ReplyPolicy
}

// ReplyPolicy describes the attributes attached to every Access-Accept.
type ReplyPolicy struct {
	IdleTimeout   uint32 `yaml:"idleTimeout" env:"RADIUS_IDLE_TIMEOUT, default=7200"`
	VendorID      uint32 `yaml:"vendorId" env:"RADIUS_VENDOR_ID, default=14988" validate:"required"`
	RateLimitType uint8  `yaml:"rateLimitType" env:"RADIUS_RATE_LIMIT_TYPE, default=8" validate:"required"`
	RateLimit     string `yaml:"rateLimit" env:"RADIUS_RATE_LIMIT, default=10M/10M"`
}

type SessionConfig struct {
	CacheTTL time.Duration `env:"SESSION_CACHE_TTL, default=24h" validate:"min=0"`
	Workers  int           `env:"SESSION_WORKERS, default=8" validate:"min=1"`
}

type StorageConfig struct {
	Driver        string `env:"STORAGE_DRIVER, default=bbolt" validate:"oneof=bbolt postgres mongo memory"`
	Path          string `env:"STORAGE_PATH, default=data/sessions.db"`
	PostgresDSN   string `env:"POSTGRES_DSN" validate:"required_if=Driver postgres"`
	MongoURI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DB, default=hotspot"`
}

type DeviceConfig struct {
	Host     string `env:"DEVICE_API_HOST, default=192.168.88.1"`
	User     string `env:"DEVICE_API_USER, default=admin"`
	Password string `env:"DEVICE_API_PASS"`
	Protocol string `env:"DEVICE_PROTOCOL, default=http" validate:"oneof=http https"`
	// InsecureSkipVerify disables certificate checks for self-signed device
	// certificates. Off unless explicitly set.
	InsecureSkipVerify bool          `env:"DEVICE_INSECURE_SKIP_VERIFY, default=false"`
	Timeout            time.Duration `env:"DEVICE_TIMEOUT, default=10s"`
}

type OpsConfig struct {
	Addr string `env:"OPS_ADDR, default=:9090"`
}

var validate = validator.New()

// LoadConfig reads environment variables and returns a populated Config struct
func LoadConfig() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if cfg.Radius.ReplyPolicyFile != "" {
		if err := cfg.Radius.Reply.loadFile(cfg.Radius.ReplyPolicyFile); err != nil {
			return nil, err
		}
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadFile overlays the YAML keys present in path on top of p.
func (p *ReplyPolicy) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read reply policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("failed to parse reply policy %s: %w", path, err)
	}
	return nil
}

// ConsumerConfig holds all configuration values for the session log consumer
type ConsumerConfig struct {
	Redis RedisConfig

	LogDir        string `env:"SESSION_LOG_DIR, default=logs"`
	StreamKey     string `env:"SESSION_STREAM, default=radius:sessions"`
	ConsumerGroup string `env:"CONSUMER_GROUP, default=session-log"`
	ConsumerName  string `env:"CONSUMER_NAME"`
	Debug         bool   `env:"SESSION_LOG_DEBUG, default=false"`
}

// LoadConsumerConfig reads environment variables and returns a populated ConsumerConfig struct
func LoadConsumerConfig() (*ConsumerConfig, error) {
	return loadConsumer(context.Background(), envconfig.OsLookuper())
}

func loadConsumer(ctx context.Context, lookuper envconfig.Lookuper) (*ConsumerConfig, error) {
	var cfg ConsumerConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	// Generate a per-process consumer name when none is configured
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = fmt.Sprintf("consumer-%d", os.Getpid())
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
