// Package config loads server settings from an optional YAML file and the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	WebSocket   WSConfig       `yaml:"websocket"`
	Admin       AdminConfig    `yaml:"admin"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	LogLevel       string        `yaml:"log_level"`
	// TrustProxy makes the server take the client IP from X-Forwarded-For.
	// Enable only behind a reverse proxy that overwrites that header.
	TrustProxy bool `yaml:"trust_proxy"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret"`
	AccessTokenDuration  time.Duration `yaml:"access_token_duration"`
	RefreshTokenDuration time.Duration `yaml:"refresh_token_duration"`
	// LoginRate is attempts per LoginWindow allowed per client IP.
	LoginRate   int           `yaml:"login_rate"`
	LoginWindow time.Duration `yaml:"login_window"`
}

type WSConfig struct {
	// EncryptionKey is a 64 char hex string (AES-256). Empty disables encryption.
	EncryptionKey     string `yaml:"encryption_key"`
	EnforceEncryption bool   `yaml:"enforce_encryption"`
}

type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Default returns the settings used when nothing else is configured.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxBodyBytes:   10 * 1024 * 1024,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			LogLevel:       "info",
		},
		Database: DatabaseConfig{Path: "notesapp.db"},
		Auth: AuthConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			LoginRate:            5,
			LoginWindow:          15 * time.Minute,
		},
		Admin: AdminConfig{
			Email:    "admin@example.com",
			Password: "Admin123!",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tooling that never serves requests.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	LoadFromEnv(cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("NOTESAPP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("NOTESAPP_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("NOTESAPP_TRUST_PROXY"); v != "" {
		cfg.Server.TrustProxy = v == "true"
	}
	if v := os.Getenv("NOTESAPP_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		cfg.WebSocket.EncryptionKey = v
	}
	if v := os.Getenv("ENFORCE_WS_ENCRYPTION"); v != "" {
		cfg.WebSocket.EnforceEncryption = v == "true"
	} else if os.Getenv("ENVIRONMENT") == "production" {
		cfg.WebSocket.EnforceEncryption = true
	}
	if v := os.Getenv("INITIAL_ADMIN_EMAIL"); v != "" {
		cfg.Admin.Email = v
	}
	if v := os.Getenv("INITIAL_ADMIN_PASSWORD"); v != "" {
		cfg.Admin.Password = v
	}
	if v := os.Getenv("NOTESAPP_LOGIN_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.LoginRate = n
		}
	}
}

var (
	ErrJWTSecretTooShort    = errors.New("config: JWT_SECRET must be at least 32 characters")
	ErrInvalidEncryptionKey = errors.New("config: ENCRYPTION_KEY must be 32 bytes of hex")
)

// Validate checks the settings that the server cannot start without.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return ErrJWTSecretTooShort
	}
	if c.WebSocket.EncryptionKey != "" {
		key, err := hex.DecodeString(c.WebSocket.EncryptionKey)
		if err != nil || len(key) != 32 {
			return ErrInvalidEncryptionKey
		}
	}
	if c.WebSocket.EnforceEncryption && c.WebSocket.EncryptionKey == "" {
		return fmt.Errorf("%w (required when websocket encryption is enforced)", ErrInvalidEncryptionKey)
	}
	if c.Auth.LoginRate < 1 {
		c.Auth.LoginRate = 1
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
