package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAGNETRON_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, k := range []string{"DATABASE_URL", "POSTGRES_HOST", "POSTGRES_DB", "MAGNETRON_ADDR", "RECONCILE_SCHEDULE", "CATALOG_BATCH_SIZE"} {
		t.Setenv(k, "")
	}
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":9090" || c.ReconcileSchedule != "@every 3m" || c.DatabaseDSN != "" {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.CatalogBatch.Size != 2 || c.CatalogBatch.Delay != time.Second {
		t.Fatalf("batch %+v", c.CatalogBatch)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "MAGNETRON_ADDR=:8081\nTASK_MAX_AGE=5m\nWS_ALLOWED_ORIGINS=a.example, b.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAGNETRON_ENV_FILE", path)
	// Reset after the test; godotenv sets variables on the process.
	t.Setenv("MAGNETRON_ADDR", "")
	t.Setenv("TASK_MAX_AGE", "")
	t.Setenv("WS_ALLOWED_ORIGINS", "")
	os.Unsetenv("MAGNETRON_ADDR")
	os.Unsetenv("TASK_MAX_AGE")
	os.Unsetenv("WS_ALLOWED_ORIGINS")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":8081" || c.TaskMaxAge != 5*time.Minute {
		t.Fatalf("got %+v", c)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "b.example" {
		t.Fatalf("origins %v", c.AllowedOrigins)
	}
}

func TestLoadDatabase(t *testing.T) {
	t.Setenv("MAGNETRON_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/magnetron?sslmode=disable")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DatabaseDSN != "postgres://u:p@db:5432/magnetron?sslmode=disable" {
		t.Fatalf("dsn %q", c.DatabaseDSN)
	}
}
