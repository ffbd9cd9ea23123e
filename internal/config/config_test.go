package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shelfsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_Defaults verifies a minimal config picks up defaults.
func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
remote:
  url: https://example.supabase.co/rest/v1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Kind != RemoteREST {
		t.Errorf("Remote.Kind = %q, want rest", cfg.Remote.Kind)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Sync.Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Sync.MaxJournalRetries != 5 {
		t.Errorf("MaxJournalRetries = %d, want 5", cfg.Sync.MaxJournalRetries)
	}
	if cfg.Remote.PageSize != 1000 {
		t.Errorf("PageSize = %d, want 1000", cfg.Remote.PageSize)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 8484 {
		t.Errorf("Dashboard = %+v, want enabled on 8484", cfg.Dashboard)
	}
	if cfg.Database.Path != "shelfsync.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

// TestLoad_FullFile verifies explicit values override defaults.
func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/shelfsync/library.db
remote:
  kind: postgres
  dsn: postgres://sync@db.internal/library
  page_size: 250
sync:
  interval: 2m
  max_journal_retries: 10
dashboard:
  enabled: false
log:
  file: /var/log/shelfsync.log
  max_size_mb: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Remote.Kind != RemotePostgres {
		t.Errorf("Remote.Kind = %q, want postgres", cfg.Remote.Kind)
	}
	if cfg.Remote.DSN != "postgres://sync@db.internal/library" {
		t.Errorf("Remote.DSN = %q", cfg.Remote.DSN)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %v, want 2m", cfg.Sync.Interval)
	}
	if cfg.Dashboard.Enabled {
		t.Error("Dashboard.Enabled = true, want false")
	}
	if cfg.Log.MaxSizeMB != 50 {
		t.Errorf("Log.MaxSizeMB = %d, want 50", cfg.Log.MaxSizeMB)
	}
}

// TestLoad_EnvOverride verifies SHELFSYNC_ variables override file values.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SHELFSYNC_REMOTE_API_KEY", "secret-from-env")

	path := writeConfig(t, `
remote:
  url: https://example.supabase.co/rest/v1
  api_key: from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.APIKey != "secret-from-env" {
		t.Errorf("Remote.APIKey = %q, want the env value", cfg.Remote.APIKey)
	}
}

// TestLoad_Validation covers rejected configurations.
func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"rest without url", "remote:\n  kind: rest\n"},
		{"postgres without dsn", "remote:\n  kind: postgres\n"},
		{"unknown backend", "remote:\n  kind: carrier_pigeon\n  url: x\n"},
		{"interval too short", "remote:\n  url: x\nsync:\n  interval: 100ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() accepted an invalid config")
			}
		})
	}
}
