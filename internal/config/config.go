package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port        string
	Environment string

	// Database (optional; in-memory result store is used when empty)
	DatabaseURL string

	// JWT (optional; unauthenticated connections get guest identities)
	JWTSecret string

	// Match timing
	CountdownDuration time.Duration
	MatchDuration     time.Duration
	ReconnectGrace    time.Duration
	RetentionWindow   time.Duration

	// Upstreams
	JudgeURL          string
	ProblemAPIBaseURL string
	ProblemFetchTries int
	UpstreamTimeout   time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		CountdownDuration: getEnvDuration("COUNTDOWN_SECONDS", 5*time.Second),
		MatchDuration:     getEnvDuration("MATCH_DURATION_SECONDS", 30*time.Minute),
		ReconnectGrace:    getEnvDuration("RECONNECT_GRACE_SECONDS", 15*time.Second),
		RetentionWindow:   getEnvDuration("RESULT_RETENTION_SECONDS", 60*time.Second),
		JudgeURL:          getEnv("JUDGE_URL", "http://localhost:2358"),
		ProblemAPIBaseURL: getEnv("PROBLEM_API_URL", "https://judgeapi.u-aizu.ac.jp"),
		ProblemFetchTries: getEnvInt("PROBLEM_FETCH_TRIES", 3),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT_SECONDS", 10*time.Second),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
