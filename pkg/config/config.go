package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Tokens   TokensConfig
	Throttle ThrottleConfig
	Password PasswordConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string
}

type DatabaseConfig struct {
	// DSN is passed straight to the sqlite driver; use a file path or
	// "file::memory:?cache=shared" for throwaway instances.
	DSN string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type TokensConfig struct {
	Secret       string
	ValidityDays int
}

type ThrottleConfig struct {
	CooldownMinutes int
	LifetimeCap     int
}

type PasswordConfig struct {
	MinLength      int
	RequireCurrent bool
}

type SessionConfig struct {
	// Secret signs and verifies session JWTs.
	Secret string
	// ContextKey is the locals key the auth middleware stores the
	// decoded token under.
	ContextKey string
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (t *ThrottleConfig) Cooldown() time.Duration {
	return time.Duration(t.CooldownMinutes) * time.Minute
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("DATABASE_DSN", "file:identity.db")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("TOKEN_SECRET", "change-me-in-production")
	v.SetDefault("TOKEN_VALIDITY_DAYS", 3)
	v.SetDefault("THROTTLE_COOLDOWN_MINUTES", 15)
	v.SetDefault("THROTTLE_LIFETIME_CAP", 20)
	v.SetDefault("PASSWORD_MIN_LENGTH", 8)
	v.SetDefault("PASSWORD_REQUIRE_CURRENT", true)
	v.SetDefault("SESSION_SECRET", "change-me-in-production")
	v.SetDefault("SESSION_CONTEXT_KEY", "user")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("DATABASE_DSN"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Tokens: TokensConfig{
			Secret:       v.GetString("TOKEN_SECRET"),
			ValidityDays: v.GetInt("TOKEN_VALIDITY_DAYS"),
		},
		Throttle: ThrottleConfig{
			CooldownMinutes: v.GetInt("THROTTLE_COOLDOWN_MINUTES"),
			LifetimeCap:     v.GetInt("THROTTLE_LIFETIME_CAP"),
		},
		Password: PasswordConfig{
			MinLength:      v.GetInt("PASSWORD_MIN_LENGTH"),
			RequireCurrent: v.GetBool("PASSWORD_REQUIRE_CURRENT"),
		},
		Session: SessionConfig{
			Secret:     v.GetString("SESSION_SECRET"),
			ContextKey: v.GetString("SESSION_CONTEXT_KEY"),
		},
	}

	return cfg, nil
}
