package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
port: "3450"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
ownership:
  session_idle_ttl: 10m
  max_sessions: 50
`)

	t.Setenv("PORT", "4450")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PGPASSWORD", "from-env")

	cfg, err := LoadFile(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Port != "4450" {
		t.Errorf("expected Port=4450 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("expected Database.Password from env, got %q", cfg.Database.Password)
	}
	if cfg.Ownership.SessionIdleTTL != 10*time.Minute {
		t.Errorf("expected SessionIdleTTL=10m, got %s", cfg.Ownership.SessionIdleTTL)
	}
	if cfg.Ownership.MaxSessions != 50 {
		t.Errorf("expected MaxSessions=50, got %d", cfg.Ownership.MaxSessions)
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Port != "3450" {
		t.Errorf("expected default Port=3450, got %s", cfg.Port)
	}
	if cfg.Redis.Host != "" {
		t.Errorf("expected redis disabled by default, got host %q", cfg.Redis.Host)
	}
	if cfg.Ownership.MaxSessions != 1000 {
		t.Errorf("expected default MaxSessions=1000, got %d", cfg.Ownership.MaxSessions)
	}
	if cfg.Ownership.SweepInterval != time.Minute {
		t.Errorf("expected default SweepInterval=1m, got %s", cfg.Ownership.SweepInterval)
	}
	if cfg.Ownership.FetchTimeout != 30*time.Second {
		t.Errorf("expected default FetchTimeout=30s, got %s", cfg.Ownership.FetchTimeout)
	}
}

func TestLoadFile_RejectsInvalidOwnershipSettings(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative max sessions", "ownership:\n  max_sessions: -5\n"},
		{"negative idle ttl", "ownership:\n  session_idle_ttl: -1m\n"},
		{"negative fetch timeout", "ownership:\n  fetch_timeout: -5s\n"},
		{"redis with negative ttl", "redis:\n  host: cache.internal\n  display_ttl: -1s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, tt.yaml), "dev"); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	db := DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require",
	}

	want := "postgres://u:p@db:5433/d?sslmode=require"
	if got := db.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}

	wantConn := "host=db port=5433 user=u password=p dbname=d sslmode=require"
	if got := db.ConnectionString(); got != wantConn {
		t.Errorf("ConnectionString() = %q, want %q", got, wantConn)
	}
}
