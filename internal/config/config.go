// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in the external interface table.
type Config struct {
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPoolSize int

	ScratchDir string

	BatchSize                int // B
	MaxConcurrentBatches     int // G
	MaxConcurrentFilesPerBatch int // K

	LoaderBatchSize   int
	FetchTimeout      time.Duration
	UpsertMode        bool

	HTTPAddr    string
	MetricsAddr string

	MaxURLsPerRequest int
}

// Load builds a Config from environment variables, applying the defaults
// spec.md §6 names for every option.
func Load() Config {
	return Config{
		DBHost:     env("DB_HOST", "localhost"),
		DBPort:     env("DB_PORT", "5432"),
		DBName:     env("DB_NAME", "discomap"),
		DBUser:     env("DB_USER", "postgres"),
		DBPassword: env("DB_PASSWORD", ""),
		DBPoolSize: envInt("DB_POOL_SIZE", 15),

		ScratchDir: env("SCRATCH_DIR", "data/raw"),

		BatchSize:                  envInt("BATCH_SIZE", 50),
		MaxConcurrentBatches:       envInt("MAX_CONCURRENT_BATCHES", 3),
		MaxConcurrentFilesPerBatch: envInt("MAX_CONCURRENT_FILES_PER_BATCH", 3),

		LoaderBatchSize: envInt("LOADER_BATCH_SIZE", 50000),
		FetchTimeout:    time.Duration(envInt("FETCH_TIMEOUT_SECONDS", 300)) * time.Second,
		UpsertMode:      envBool("UPSERT_MODE", false),

		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9090"),

		MaxURLsPerRequest: envInt("MAX_URLS_PER_REQUEST", 10000),
	}
}

// DSN builds the pgx connection string for this configuration.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
