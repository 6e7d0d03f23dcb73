// Package config loads settings for the chatsync binaries: built-in
// defaults, overridden by an optional YAML file, overridden by
// environment variables (with .env support).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds settings shared by the client and server binaries.
type Config struct {
	// ServerAddr is the server listen address.
	ServerAddr string `yaml:"server_addr"`
	// SocketURL is the websocket endpoint the client dials.
	SocketURL string `yaml:"socket_url"`
	// LoginURL is the identity endpoint the client exchanges credentials at.
	LoginURL string `yaml:"login_url"`
	// JWTSecret signs and verifies bearer tokens.
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
	// HistoryPageSize is the server's history page length.
	HistoryPageSize int `yaml:"history_page_size"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ServerAddr:      ":8080",
		SocketURL:       "ws://localhost:8080/ws",
		LoginURL:        "http://localhost:8080/login",
		JWTSecret:       "secret",
		TokenTTL:        72 * time.Hour,
		HistoryPageSize: 50,
		LogLevel:        "info",
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (if path is non-empty), then environment variables. A .env
// file in the working directory is loaded first if present.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Ignore a missing .env; production sets real environment variables.
	_ = godotenv.Load()

	cfg.ServerAddr = getEnv("CHATSYNC_ADDR", cfg.ServerAddr)
	cfg.SocketURL = getEnv("CHATSYNC_SOCKET_URL", cfg.SocketURL)
	cfg.LoginURL = getEnv("CHATSYNC_LOGIN_URL", cfg.LoginURL)
	cfg.JWTSecret = getEnv("CHATSYNC_JWT_SECRET", cfg.JWTSecret)
	cfg.HistoryPageSize = getEnvInt("CHATSYNC_HISTORY_PAGE_SIZE", cfg.HistoryPageSize)
	cfg.LogLevel = getEnv("CHATSYNC_LOG_LEVEL", cfg.LogLevel)

	if ttl := os.Getenv("CHATSYNC_TOKEN_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return cfg, fmt.Errorf("invalid CHATSYNC_TOKEN_TTL %q: %w", ttl, err)
		}
		cfg.TokenTTL = parsed
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the value of an environment variable as an integer or
// a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
