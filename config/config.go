// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the service reads from its environment.
type Config struct {
	PostgresURL string
	JWTSecret   string
	TokenTTL    time.Duration
	Port        int
	LogLevel    string
	LogPretty   bool
	GinMode     string
}

var ErrMissingSecret = errors.New("JWT_SECRET is required")

// ginModes are the values gin.SetMode accepts; anything else makes it panic.
var ginModes = []string{"debug", "release", "test"}

// Load reads configuration from environment variables. Values from a .env file
// in the working directory are used when present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit env file, used by tests.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		PostgresURL: os.Getenv("POSTGRES_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		GinMode:     getEnv("GIN_MODE", "release"),
	}
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if !slices.Contains(ginModes, cfg.GinMode) {
		return nil, fmt.Errorf("invalid GIN_MODE %q: want one of %v", cfg.GinMode, ginModes)
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d out of range", port)
	}
	cfg.Port = port

	ttl, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}
	cfg.TokenTTL = ttl

	pretty, err := strconv.ParseBool(getEnv("LOG_PRETTY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}
	cfg.LogPretty = pretty

	return cfg, nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
