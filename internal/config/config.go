package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every knob for both the server and the batch worker.
// Everything comes from the environment; a .env file is loaded when present.
type Config struct {
	PostgresDSN   string
	RedisAddr     string
	EventsChannel string
	HTTPAddr      string
	WorkerBin     string

	MaxConcurrentBatches int
	BatchSize            int
	WorkerConcurrency    int
	RatePerMinute        int
	RetryBudget          int

	CoalesceInterval time.Duration
	RetryDelay       time.Duration
	ShutdownWait     time.Duration
	TermGrace        time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		return Config{}, errors.New("missing env: POSTGRES_DSN")
	}

	return Config{
		PostgresDSN:   dsn,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		EventsChannel: envOr("EVENTS_CHANNEL", "ingest:events"),
		HTTPAddr:      envOr("HTTP_ADDR", ":8080"),
		WorkerBin:     os.Getenv("WORKER_BIN"),

		MaxConcurrentBatches: envIntOr("MAX_CONCURRENT_BATCHES", 3),
		BatchSize:            envIntOr("BATCH_SIZE", 10),
		WorkerConcurrency:    envIntOr("WORKER_CONCURRENCY", 5),
		RatePerMinute:        envIntOr("RATE_PER_MINUTE", 60),
		RetryBudget:          envIntOr("RETRY_BUDGET", 1),

		CoalesceInterval: time.Duration(envIntOr("COALESCE_INTERVAL_MS", 150)) * time.Millisecond,
		RetryDelay:       time.Duration(envIntOr("RETRY_DELAY_SEC", 2)) * time.Second,
		ShutdownWait:     time.Duration(envIntOr("SHUTDOWN_WAIT_SEC", 10)) * time.Second,
		TermGrace:        time.Duration(envIntOr("TERM_GRACE_SEC", 2)) * time.Second,
	}, nil
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
