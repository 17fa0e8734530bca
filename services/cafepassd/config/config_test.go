package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7085" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected storage driver %q", cfg.Storage.Driver)
	}
	if cfg.RateLimit.RequestsPerMinute != 600 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	if cfg.ShutdownGrace.Duration != 5*time.Second {
		t.Fatalf("unexpected shutdown grace %v", cfg.ShutdownGrace.Duration)
	}
	if cfg.Audit.Enabled {
		t.Fatalf("audit should default to disabled")
	}
}

func TestLoadParsesDurationsAndDrivers(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
storage:
  driver: LevelDB
  path: /var/data/cafepass
audit:
  enabled: true
shutdown_grace: 30s
rate_limit:
  requests_per_minute: 120
  burst: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "leveldb" {
		t.Fatalf("expected driver lowercased, got %q", cfg.Storage.Driver)
	}
	if cfg.ShutdownGrace.Duration != 30*time.Second {
		t.Fatalf("unexpected shutdown grace %v", cfg.ShutdownGrace.Duration)
	}
	if cfg.Audit.DatabasePath == "" {
		t.Fatalf("expected default audit database path when enabled")
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 5 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestLoadRequiresPathForDiskDrivers(t *testing.T) {
	for _, driver := range []string{"leveldb", "bolt"} {
		path := writeConfig(t, "storage:\n  driver: "+driver+"\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("driver %q: expected error for missing path", driver)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeConfig(t, "shutdown_grace: not-a-duration\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
