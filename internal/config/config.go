// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"readStreakAPI/internal/recovery"
)

type Config struct {
	Port     string
	LogMode  string
	Database string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LedgerURL      string
	LedgerToken    string
	LedgerTimeout  time.Duration
	LedgerAttempts int

	ClerkSecretKey   string
	IngestSigningKey string

	MetricsUser string
	MetricsPass string

	RecoveryRegularCost int
	RecoveryWindow      time.Duration

	OtelEnabled  bool
	OtelEndpoint string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                String("PORT", "3333"),
		LogMode:             String("LOG_MODE", "dev"),
		Database:            String("DATABASE_URL", ""),
		RedisAddr:           String("REDIS_ADDR", ""),
		RedisPassword:       String("REDIS_PASSWORD", ""),
		RedisDB:             Int("REDIS_DB", 0),
		LedgerURL:           strings.TrimRight(String("LEDGER_URL", ""), "/"),
		LedgerToken:         String("LEDGER_TOKEN", ""),
		LedgerTimeout:       Duration("LEDGER_TIMEOUT", 3*time.Second),
		LedgerAttempts:      Int("LEDGER_ATTEMPTS", 3),
		ClerkSecretKey:      String("CLERK_SECRET_KEY", ""),
		IngestSigningKey:    String("INGEST_SIGNING_KEY", ""),
		MetricsUser:         String("METRICS_USER", ""),
		MetricsPass:         String("METRICS_PASS", ""),
		RecoveryRegularCost: Int("RECOVERY_REGULAR_COST", recovery.DefaultRegularCost),
		RecoveryWindow:      Duration("RECOVERY_TTL", recovery.DefaultWindow),
		OtelEnabled:         Bool("OTEL_ENABLED", false),
		OtelEndpoint:        String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	var missing []string
	for name, v := range map[string]string{
		"DATABASE_URL":       cfg.Database,
		"REDIS_ADDR":         cfg.RedisAddr,
		"LEDGER_URL":         cfg.LedgerURL,
		"CLERK_SECRET_KEY":   cfg.ClerkSecretKey,
		"INGEST_SIGNING_KEY": cfg.IngestSigningKey,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if cfg.RecoveryRegularCost < 0 {
		return nil, fmt.Errorf("RECOVERY_REGULAR_COST must not be negative")
	}
	if cfg.LedgerAttempts < 1 {
		cfg.LedgerAttempts = 1
	}
	return cfg, nil
}

func String(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Bool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
