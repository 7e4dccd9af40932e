package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything main needs to wire the engine. Remote protocol
// thresholds (poll intervals, attempt caps, result-size policy) are deployment
// policy, not protocol invariants, so they all live here.
type Config struct {
	Addr         string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string
	AuditTopic   string

	JWTSigningKey string

	ServiceBaseURL string
	RequestTimeout time.Duration
	ClockSkew      time.Duration

	PollFloor       time.Duration
	PollCap         time.Duration
	MaxPollDuration time.Duration
	MaxAttempts     int

	FetchRetries     int
	FetchConcurrency int

	CooldownDefault time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// A .env file is loaded first when present (ignored if missing).
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Addr:         getEnv("SATSYNC_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		AuditTopic:   getEnv("AUDIT_TOPIC", "satsync.audit"),

		JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),

		ServiceBaseURL: getEnv("SAT_BASE_URL", "https://srv.sat.gob.mx/masivas"),
		RequestTimeout: getDuration("SAT_REQUEST_TIMEOUT", 30*time.Second),
		ClockSkew:      getDuration("SAT_CLOCK_SKEW", 5*time.Minute),

		PollFloor:       getDuration("SYNC_POLL_FLOOR", 15*time.Second),
		PollCap:         getDuration("SYNC_POLL_CAP", 5*time.Minute),
		MaxPollDuration: getDuration("SYNC_MAX_POLL_DURATION", 2*time.Hour),
		MaxAttempts:     getInt("SYNC_MAX_ATTEMPTS", 5),

		FetchRetries:     getInt("SYNC_FETCH_RETRIES", 4),
		FetchConcurrency: getInt("SYNC_FETCH_CONCURRENCY", 3),

		CooldownDefault: getDuration("SAT_COOLDOWN_DEFAULT", 10*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
