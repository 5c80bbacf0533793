package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains application-wide settings sourced from the environment.
type Config struct {
	DatabaseURL      string
	DBConnectTimeout time.Duration
	Addr             string
	AllowedOrigins   []string

	CatalogBaseURL string

	AIBaseURL string
	AIAPIKeys []string
	AIModel   string

	TokenSecret string

	SessionMaxIdle       time.Duration
	SessionSweepInterval time.Duration

	LogLevel  string
	LogFormat string
}

func loadConfig() (Config, error) {
	_ = godotenv.Load("config/local.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return Config{}, errors.New("DATABASE_URL env var is required")
	}

	secret := os.Getenv("TOKEN_SECRET")
	if secret == "" {
		return Config{}, errors.New("TOKEN_SECRET env var is required")
	}

	addr := fmt.Sprintf(":%s", envOrDefault("PORT", "8080"))

	origins := splitAndTrim(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173"))

	maxIdle, err := time.ParseDuration(envOrDefault("SESSION_MAX_IDLE", "30m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_MAX_IDLE: %w", err)
	}
	sweepInterval, err := time.ParseDuration(envOrDefault("SESSION_SWEEP_INTERVAL", "5m"))
	if err != nil {
		return Config{}, fmt.Errorf("parse SESSION_SWEEP_INTERVAL: %w", err)
	}
	dbConnectTimeout, err := time.ParseDuration(envOrDefault("DB_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("parse DB_CONNECT_TIMEOUT: %w", err)
	}

	return Config{
		DatabaseURL:          dsn,
		DBConnectTimeout:     dbConnectTimeout,
		Addr:                 addr,
		AllowedOrigins:       origins,
		CatalogBaseURL:       os.Getenv("CATALOG_BASE_URL"),
		AIBaseURL:            envOrDefault("AI_API_BASE_URL", "https://api.openai.com/v1"),
		AIAPIKeys:            splitAndTrim(os.Getenv("AI_API_KEYS")),
		AIModel:              os.Getenv("AI_MODEL"),
		TokenSecret:          secret,
		SessionMaxIdle:       maxIdle,
		SessionSweepInterval: sweepInterval,
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
