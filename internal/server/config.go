package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by OJS_BACKEND.
const (
	BackendNATS   = "nats"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port     string
	GRPCPort string

	Backend    string
	NatsURL    string
	QueueName  string
	SQLitePath string

	Lease              time.Duration
	RecurrenceAnchored bool

	PollInterval      time.Duration
	PollRate          int
	WorkerConcurrency int
	WorkerTypes       []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:     getEnv("OJS_PORT", "8080"),
		GRPCPort: getEnv("OJS_GRPC_PORT", "9090"),

		Backend:    strings.ToLower(getEnv("OJS_BACKEND", BackendNATS)),
		NatsURL:    getEnv("NATS_URL", "nats://localhost:4222"),
		QueueName:  getEnv("OJS_QUEUE_NAME", "default"),
		SQLitePath: getEnv("OJS_SQLITE_PATH", "data/ojs-scheduler.db"),

		Lease:              getEnvDuration("OJS_LEASE", 5*time.Minute),
		RecurrenceAnchored: getEnvBool("OJS_RECURRENCE_ANCHORED", false),

		PollInterval:      getEnvDuration("OJS_POLL_INTERVAL", time.Second),
		PollRate:          getEnvInt("OJS_POLL_RATE", 0),
		WorkerConcurrency: getEnvInt("OJS_WORKER_CONCURRENCY", 1),
		WorkerTypes:       getEnvList("OJS_WORKER_TYPES"),

		ReadTimeout:     getEnvDuration("OJS_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("OJS_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("OJS_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("OJS_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// Validate reports the first setting that cannot start a server.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendNATS, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("OJS_BACKEND %q: want one of nats, sqlite, memory", c.Backend)
	}
	if c.Lease <= 0 {
		return fmt.Errorf("OJS_LEASE must be positive, got %s", c.Lease)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("OJS_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollRate < 0 {
		return fmt.Errorf("OJS_POLL_RATE must not be negative, got %d", c.PollRate)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("OJS_WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
