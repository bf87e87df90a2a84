// Package config loads the environment-based settings shared by the
// Producer and Worker binaries, following the teacher's convention of a
// prefixed env var per setting plus an optional .env file for local
// development (joho/godotenv).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/volaticloud/runbox/internal/auth"
)

// Config holds every setting either binary needs. Not every field is used
// by every binary: cmd/server reads the HTTP/artifact/realtime fields,
// cmd/worker reads the container/queue/job fields, and both read the
// storage fields.
type Config struct {
	Host         string
	Port         int
	InternalHost string
	InternalPort int

	PostgresURL string
	NATSURL     string
	RedisURL    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	ArtifactsRoot    string
	ArtifactsBaseURL string

	AllowedOrigins []string

	JobTimeout   time.Duration
	FetchBatch   int
	FetchMaxWait time.Duration

	MaxAckPending int
}

// Load reads an optional .env file (ignored if absent) and then the
// process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:         envOr("RUNBOX_HOST", "0.0.0.0"),
		Port:         envInt("RUNBOX_PORT", 8080),
		InternalHost: envOr("RUNBOX_INTERNAL_HOST", "127.0.0.1"),
		InternalPort: envInt("RUNBOX_INTERNAL_PORT", 8090),

		PostgresURL: os.Getenv("RUNBOX_POSTGRES_URL"),
		NATSURL:     envOr("RUNBOX_NATS_URL", "nats://127.0.0.1:4222"),
		RedisURL:    envOr("RUNBOX_REDIS_URL", "redis://127.0.0.1:6379/0"),

		JWTSecret:   os.Getenv("RUNBOX_JWT_SECRET"),
		JWTIssuer:   envOr("RUNBOX_JWT_ISSUER", auth.DefaultIssuer),
		JWTAudience: envOr("RUNBOX_JWT_AUDIENCE", auth.DefaultAudience),

		ArtifactsRoot:    envOr("RUNBOX_ARTIFACTS_ROOT", "./data/reports"),
		ArtifactsBaseURL: os.Getenv("RUNBOX_ARTIFACTS_BASE_URL"),

		AllowedOrigins: envList("RUNBOX_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		JobTimeout:   envDuration("RUNBOX_JOB_TIMEOUT", time.Hour),
		FetchBatch:   envInt("RUNBOX_FETCH_BATCH", 1),
		FetchMaxWait: envDuration("RUNBOX_FETCH_MAX_WAIT", 5*time.Second),

		MaxAckPending: envInt("RUNBOX_MAX_ACK_PENDING", 10),
	}

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("RUNBOX_POSTGRES_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("RUNBOX_JWT_SECRET is required")
	}
	return cfg, nil
}

// Addr is the tenant-facing HTTP bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InternalAddr is the loopback-only bind address the Worker reports to.
func (c *Config) InternalAddr() string {
	return fmt.Sprintf("%s:%d", c.InternalHost, c.InternalPort)
}

// InternalBaseURL is the URL the Worker posts status/log updates to.
func (c *Config) InternalBaseURL() string {
	return fmt.Sprintf("http://%s", c.InternalAddr())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
