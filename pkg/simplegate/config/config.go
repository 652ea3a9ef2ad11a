package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:               "8080",
		Environment:        "development",
		LogLevel:           "info",
		LogFormat:          "text",
		SessionTTL:         30 * 24 * time.Hour,
		StorageURL:         "memory://",
		AWSRegion:          "us-east-1",
		MaxUploadBytes:     10 << 20,
		SignedURLTTL:       time.Hour,
		DownloadPath:       "/api/upload",
		PasswordIterations: 100000,
		UploadRateLimit:    5,
		UploadRateWindow:   time.Minute,
		DownloadRateLimit:  30,
		DownloadRateWindow: time.Minute,
		TrustedIPHeader:    "CF-Connecting-IP",
	}
}

// ServerConfig represents server configuration for the simple-gate service.
// Fields carry cleanenv tags so they can be read from the environment or a
// YAML, JSON, TOML or .env file.
type ServerConfig struct {
	Port        string `yaml:"port" json:"port" env:"PORT"`
	Environment string `yaml:"environment" json:"environment" env:"ENVIRONMENT"` // development, production, testing

	// Logging
	LogLevel  string `yaml:"log_level" json:"log_level" env:"LOG_LEVEL"`    // debug, info, warn, error
	LogFormat string `yaml:"log_format" json:"log_format" env:"LOG_FORMAT"` // text, json

	// Secrets
	SigningSecret string        `yaml:"signing_secret" json:"signing_secret" env:"SIGNING_SECRET"`
	JWTSecret     string        `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	SessionTTL    time.Duration `yaml:"session_ttl" json:"session_ttl" env:"SESSION_TTL"`

	// Database: empty or "memory" for the in-memory user store
	DatabaseURL string `yaml:"database_url" json:"database_url" env:"DATABASE_URL"`

	// Storage: memory://, file:///dir, s3://bucket?region=&endpoint=&path_style=
	StorageURL         string `yaml:"storage_url" json:"storage_url" env:"STORAGE_URL"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id" json:"aws_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key" json:"aws_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `yaml:"aws_region" json:"aws_region" env:"AWS_REGION"`

	// Rate limiting: empty (disabled), memory://, redis://host:port/db, bolt:///path/file.db
	RateLimitStoreURL  string        `yaml:"rate_limit_store_url" json:"rate_limit_store_url" env:"RATE_LIMIT_STORE_URL"`
	UploadRateLimit    int           `yaml:"upload_rate_limit" json:"upload_rate_limit" env:"UPLOAD_RATE_LIMIT"`
	UploadRateWindow   time.Duration `yaml:"upload_rate_window" json:"upload_rate_window" env:"UPLOAD_RATE_WINDOW"`
	DownloadRateLimit  int           `yaml:"download_rate_limit" json:"download_rate_limit" env:"DOWNLOAD_RATE_LIMIT"`
	DownloadRateWindow time.Duration `yaml:"download_rate_window" json:"download_rate_window" env:"DOWNLOAD_RATE_WINDOW"`
	TrustedIPHeader    string        `yaml:"trusted_ip_header" json:"trusted_ip_header" env:"TRUSTED_IP_HEADER"`

	// Gateway
	MaxUploadBytes     int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	SignedURLTTL       time.Duration `yaml:"signed_url_ttl" json:"signed_url_ttl" env:"SIGNED_URL_TTL"`
	DownloadPath       string        `yaml:"download_path" json:"download_path" env:"DOWNLOAD_PATH"`
	PasswordIterations int           `yaml:"password_iterations" json:"password_iterations" env:"PASSWORD_ITERATIONS"`
}

// IsProduction reports whether the service runs in production
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.IsProduction() {
		if c.SigningSecret == "" {
			return errors.New("signing_secret is required in production")
		}
		if c.JWTSecret == "" {
			return errors.New("jwt_secret is required in production")
		}
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'text' or 'json', got: %s", c.LogFormat)
	}

	if _, err := parseStorageURL(c.StorageURL); err != nil {
		return err
	}
	if err := validateDatabaseURL(c.DatabaseURL); err != nil {
		return err
	}
	if err := validateRateLimitStoreURL(c.RateLimitStoreURL); err != nil {
		return err
	}

	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if c.SignedURLTTL < time.Second {
		return errors.New("signed_url_ttl must be at least one second")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.PasswordIterations <= 0 {
		return errors.New("password_iterations must be positive")
	}
	if c.UploadRateLimit < 0 || c.DownloadRateLimit < 0 {
		return errors.New("rate limits cannot be negative")
	}
	if c.UploadRateWindow < time.Second || c.DownloadRateWindow < time.Second {
		return errors.New("rate limit windows must be at least one second")
	}

	return nil
}

func validateDatabaseURL(dbURL string) error {
	if dbURL == "" || dbURL == "memory" ||
		strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		return nil
	}
	return errors.New("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')")
}

func validateRateLimitStoreURL(storeURL string) error {
	switch {
	case storeURL == "", storeURL == "memory", storeURL == "memory://",
		strings.HasPrefix(storeURL, "redis://"), strings.HasPrefix(storeURL, "rediss://"):
		return nil
	case strings.HasPrefix(storeURL, "bolt://"):
		if strings.TrimPrefix(storeURL, "bolt://") == "" {
			return errors.New("bolt path cannot be empty in RATE_LIMIT_STORE_URL")
		}
		return nil
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_STORE_URL format: %s (use 'memory://', 'redis://...', or 'bolt://...')", storeURL)
	}
}

// WithEnv reads every field that has a matching environment variable set.
// Unset variables leave the current value in place.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("reading environment: %w", err)
		}
		return nil
	}
}

// WithConfigFile reads a YAML, JSON, TOML or .env file, then applies
// environment overrides on top of it.
func WithConfigFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithSigningSecret sets the secret for signed download URLs
func WithSigningSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.SigningSecret = secret
		return nil
	}
}

// WithStorageURL sets the object store location
func WithStorageURL(storageURL string) Option {
	return func(c *ServerConfig) error {
		if _, err := parseStorageURL(storageURL); err != nil {
			return err
		}
		c.StorageURL = storageURL
		return nil
	}
}

// WithRateLimitStoreURL sets the rate limiter backing store
func WithRateLimitStoreURL(storeURL string) Option {
	return func(c *ServerConfig) error {
		c.RateLimitStoreURL = storeURL
		return nil
	}
}

// WithDatabaseURL sets the Postgres connection string for users
func WithDatabaseURL(dbURL string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseURL = dbURL
		return nil
	}
}
