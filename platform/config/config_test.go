package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/permits")
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetReconcileInterval() != 5*time.Minute {
		t.Fatalf("expected default reconcile interval, got %s", cfg.GetReconcileInterval())
	}
	if cfg.GetAsynqQueue() != "stages" {
		t.Fatalf("expected default queue, got %q", cfg.GetAsynqQueue())
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:permits.db")
	t.Setenv("DATABASE_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadRejectsWildcardWithCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:permits.db")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for wildcard CORS with credentials")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split result %v", got)
	}
}
