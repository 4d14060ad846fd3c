// Package config reads process configuration from the environment. A .env
// file in the working directory, or at MAGNETRON_ENV_FILE, is loaded first;
// variables already set in the environment win.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tinoosan/magnetron/internal/batch"
	"github.com/tinoosan/magnetron/internal/repo"
)

type Config struct {
	Addr     string
	LogLevel string
	LogFile  string

	// DatabaseDSN is empty when no Postgres settings are present; the
	// in-memory repository is used then.
	DatabaseDSN string
	RedisURL    string

	// SettingsFile, when set and no database is configured, keeps downloader
	// settings in a YAML file.
	SettingsFile string
	UploadDir    string

	ReconcileSchedule string
	SweepSchedule     string
	TaskMaxAge        time.Duration

	CatalogBatch batch.Options
	// CatalogRefreshLimit caps one detail refresh; 0 means no cap.
	CatalogRefreshLimit int

	// AllowedOrigins are passed to the WebSocket handshake.
	AllowedOrigins []string
	ShutdownGrace  time.Duration
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	path := getenv("MAGNETRON_ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	c := Config{
		Addr:                getenv("MAGNETRON_ADDR", ":9090"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFile:             os.Getenv("LOG_FILE"),
		RedisURL:            os.Getenv("REDIS_URL"),
		SettingsFile:        os.Getenv("SETTINGS_FILE"),
		UploadDir:           getenv("UPLOAD_DIR", "uploads"),
		ReconcileSchedule:   getenv("RECONCILE_SCHEDULE", "@every 3m"),
		SweepSchedule:       getenv("TASK_SWEEP_SCHEDULE", "@every 10m"),
		TaskMaxAge:          durationEnv("TASK_MAX_AGE", time.Hour),
		CatalogRefreshLimit: intEnv("CATALOG_REFRESH_LIMIT", 0),
		CatalogBatch: batch.Options{
			Size:  intEnv("CATALOG_BATCH_SIZE", batch.DefaultSize),
			Delay: durationEnv("CATALOG_BATCH_DELAY", batch.DefaultDelay),
		},
		AllowedOrigins: splitList(os.Getenv("WS_ALLOWED_ORIGINS")),
		ShutdownGrace:  durationEnv("SHUTDOWN_GRACE", 30*time.Second),
	}
	if hasDatabaseEnv() {
		c.DatabaseDSN = repo.DSNFromEnv()
	}
	return c, nil
}

func hasDatabaseEnv() bool {
	return os.Getenv("DATABASE_URL") != "" || os.Getenv("POSTGRES_HOST") != "" || os.Getenv("POSTGRES_DB") != ""
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil && v >= 0 {
		return v
	}
	return def
}

func durationEnv(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil && v > 0 {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
