// Package config loads oauthd settings from the environment.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend drivers.
const (
	StorePostgres = "postgres"
	StoreBolt     = "bolt"

	CacheRedis  = "redis"
	CacheMemory = "memory"

	AuditLog  = "log"
	AuditAMQP = "amqp"
	AuditNone = "none"
)

// minSecretLen matches the HS256 key floor enforced by the token package.
const minSecretLen = 32

// Config holds all environment-based configuration for oauthd.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Issuer is the public base URL, used as the iss claim and in metadata.
	Issuer string `env:"OAUTH_ISSUER"`

	// Audience defaults to Issuer.
	Audience string `env:"OAUTH_AUDIENCE"`

	AccessTokenTTL  time.Duration `env:"OAUTH_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"OAUTH_REFRESH_TOKEN_TTL" envDefault:"720h"`
	CodeTTL         time.Duration `env:"OAUTH_CODE_TTL" envDefault:"10m"`

	// Signing key for access tokens: an RSA PEM (inline or file) selects
	// RS256, otherwise the shared secret selects HS256.
	SigningKeyPEM    string `env:"OAUTH_SIGNING_KEY_PEM"`
	SigningKeyPath   string `env:"OAUTH_SIGNING_KEY_PATH"`
	SigningSecret    string `env:"OAUTH_SIGNING_SECRET"`
	SessionJWTSecret string `env:"SESSION_JWT_SECRET"`
	BcryptCost       int    `env:"BCRYPT_COST" envDefault:"10"`

	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"bolt"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	BoltPath       string        `env:"BOLT_PATH" envDefault:"oauthd.db"`

	CacheDriver    string `env:"CACHE_DRIVER" envDefault:"memory"`
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"oauth:code:"`

	// ScopesFile replaces the built-in scope catalogue when set.
	ScopesFile string `env:"SCOPES_FILE"`

	AuditDriver  string `env:"AUDIT_DRIVER" envDefault:"log"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"oauthd.audit"`
	AuditBuffer  int    `env:"AUDIT_BUFFER" envDefault:"1024"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing secrets to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables. A .env file is
// loaded first if present, then the AWS Secrets Manager secret named by
// AWS_SECRETS_MANAGER_SECRET_ID (if any) is merged into the environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	if err := loadAWSSecrets(ctx, newSecretsClient); err != nil {
		return nil, fmt.Errorf("loading AWS secrets: %w", err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("OAUTH_ISSUER is required")
	}

	if c.SigningKeyPEM == "" && c.SigningKeyPath == "" && c.SigningSecret == "" {
		return fmt.Errorf("one of OAUTH_SIGNING_KEY_PEM, OAUTH_SIGNING_KEY_PATH or OAUTH_SIGNING_SECRET is required")
	}

	if c.SigningKeyPEM == "" && c.SigningKeyPath == "" && len(c.SigningSecret) < minSecretLen {
		return fmt.Errorf("OAUTH_SIGNING_SECRET must be at least %d bytes", minSecretLen)
	}

	if len(c.SessionJWTSecret) < minSecretLen {
		return fmt.Errorf("SESSION_JWT_SECRET is required and must be at least %d bytes", minSecretLen)
	}

	// Sharing one secret would let either token kind be verified as the
	// other if the typ claim were ever dropped.
	if c.SigningSecret != "" && c.SigningSecret == c.SessionJWTSecret {
		return fmt.Errorf("OAUTH_SIGNING_SECRET must differ from SESSION_JWT_SECRET")
	}

	for name, ttl := range map[string]time.Duration{
		"OAUTH_ACCESS_TOKEN_TTL":  c.AccessTokenTTL,
		"OAUTH_REFRESH_TOKEN_TTL": c.RefreshTokenTTL,
		"OAUTH_CODE_TTL":          c.CodeTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when STORE_DRIVER is %q", StoreBolt)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %q or %q)", c.StoreDriver, StorePostgres, StoreBolt)
	}

	switch c.CacheDriver {
	case CacheRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_DRIVER is %q", CacheRedis)
		}
	case CacheMemory:
	default:
		return fmt.Errorf("unknown CACHE_DRIVER %q (want %q or %q)", c.CacheDriver, CacheRedis, CacheMemory)
	}

	switch c.AuditDriver {
	case AuditAMQP:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when AUDIT_DRIVER is %q", AuditAMQP)
		}
	case AuditLog, AuditNone:
	default:
		return fmt.Errorf("unknown AUDIT_DRIVER %q", c.AuditDriver)
	}

	if c.AuditBuffer <= 0 {
		return fmt.Errorf("AUDIT_BUFFER must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
