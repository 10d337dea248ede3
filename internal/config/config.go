package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL        string
	ServerAddr         string
	StoreBackend       string // "postgres" or "memory"
	RedisAddr          string // empty selects the in-process cache
	WebhookSecret      string
	SignatureTolerance time.Duration
	LedgerLease        time.Duration
	LedgerMaxAttempts  int
	PaymentGrace       time.Duration
	CanceledGrace      time.Duration
	GraceWarningLead   time.Duration
	TrialPeriod        time.Duration
	TrialGrace         time.Duration
	OfflineCap         time.Duration
	HeartbeatInterval  time.Duration
	LapseSweepInterval time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "license_hub")
		pass := getenv("POSTGRES_PASSWORD", "license_hub_pass")
		db := getenv("POSTGRES_DB", "license_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return &Config{
		DatabaseURL:        dsn,
		ServerAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StoreBackend:       getenv("STORE_BACKEND", "postgres"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		WebhookSecret:      secret,
		SignatureTolerance: parseDuration(getenv("SIGNATURE_TOLERANCE", "5m"), 5*time.Minute),
		LedgerLease:        parseDuration(getenv("LEDGER_LEASE", "30s"), 30*time.Second),
		LedgerMaxAttempts:  parseInt(getenv("LEDGER_MAX_ATTEMPTS", "5"), 5),
		PaymentGrace:       parseDuration(getenv("PAYMENT_GRACE", "168h"), 168*time.Hour),
		CanceledGrace:      parseDuration(getenv("CANCELED_GRACE", "0s"), 0),
		GraceWarningLead:   parseDuration(getenv("GRACE_WARNING_LEAD", "24h"), 24*time.Hour),
		TrialPeriod:        parseDuration(getenv("TRIAL_PERIOD", "720h"), 720*time.Hour),
		TrialGrace:         parseDuration(getenv("TRIAL_GRACE", "24h"), 24*time.Hour),
		OfflineCap:         parseDuration(getenv("OFFLINE_CAP", "168h"), 168*time.Hour),
		HeartbeatInterval:  parseDuration(getenv("HEARTBEAT_INTERVAL", "60s"), time.Minute),
		LapseSweepInterval: parseDuration(getenv("LAPSE_SWEEP_INTERVAL", "1h"), time.Hour),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
