package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ferry/internal/record"
)

// isolate keeps Load from picking up a ferry.yaml outside the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestDefault_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.File)

	want := Default()
	assert.Equal(t, want.Store, cfg.Store)
	assert.Equal(t, want.Sync, cfg.Sync)
	assert.Equal(t, record.DefaultCollections(), cfg.Collections)
}

func TestLoad_FindsFileInWorkingDirectory(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("ferry.yaml", []byte("store:\n  path: here.db\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "here.db", cfg.Store.Path)
	assert.Contains(t, cfg.File, "ferry.yaml")
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ferry/queue.db", cfg.Store.Path)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "https://api.example.com/healthz", cfg.Remote.HealthURL)
	// Map keys come back lower-cased; HTTP header names are case-insensitive.
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, cfg.Remote.Headers)

	assert.Equal(t, "/run/ferry/network", cfg.Connectivity.SignalFile)
	assert.Equal(t, time.Minute, cfg.Connectivity.ProbeInterval)
	assert.Equal(t, 15*time.Minute, cfg.Connectivity.WakeInterval)

	assert.Equal(t, SyncConfig{
		LeaseName:        "field_sync",
		LeaseTTL:         5 * time.Minute,
		MaxAttempts:      4,
		RejectedAttempts: 2,
		BackoffMin:       time.Second,
		BackoffMax:       10 * time.Minute,
		Multiplier:       3,
		Jitter:           0.1,
		Retention:        168 * time.Hour,
		OnEnqueue:        true,
	}, cfg.Sync)

	assert.Equal(t, []record.CollectionSpec{
		{Name: "leads"},
		{Name: "notes", Parent: "leads", ParentField: "leadId"},
		{Name: "attachments", Parent: "notes"},
	}, cfg.Collections)

	assert.Equal(t, LogConfig{
		Level:      "debug",
		File:       "/var/log/ferry/ferry.log",
		MaxSizeMB:  5,
		MaxBackups: 2,
		MaxAgeDays: 7,
	}, cfg.Log)

	graph, err := cfg.Graph()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"leads"}, {"notes"}, {"attachments"}}, graph.Levels())
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Load("testdata/partial.yaml")
	require.NoError(t, err)

	assert.Equal(t, "partial.db", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Sync.MaxAttempts)
	assert.Equal(t, Default().Sync.RejectedAttempts, cfg.Sync.RejectedAttempts)
	assert.Equal(t, Default().Sync.BackoffMax, cfg.Sync.BackoffMax)
	assert.Equal(t, Default().Remote, cfg.Remote)
	assert.Len(t, cfg.Collections, 3)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FERRY_STORE_PATH", "env.db")
	t.Setenv("FERRY_SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("FERRY_SYNC_REJECTED_ATTEMPTS", "1")
	t.Setenv("FERRY_SYNC_BACKOFF_MIN", "2s")
	t.Setenv("FERRY_CONNECTIVITY_START_ONLINE", "true")

	cfg, err := Load("testdata/partial.yaml")
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Store.Path, "environment beats file")
	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 1, cfg.Sync.RejectedAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.BackoffMin)
	assert.True(t, cfg.Connectivity.StartOnline)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.False(t, IsValidationError(err))
}

func TestLoad_RejectsCycle(t *testing.T) {
	_, err := Load("testdata/cycle.yaml")
	require.Error(t, err)
	require.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	msg := err.Error()
	assert.Contains(t, msg, "remote.base_url")
	assert.Contains(t, msg, "sync.jitter")
	assert.Contains(t, msg, "log.level")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"negative attempts", func(c *Config) { c.Sync.MaxAttempts = -1 }, "sync.max_attempts"},
		{"negative rejected attempts", func(c *Config) { c.Sync.RejectedAttempts = -1 }, "sync.rejected_attempts"},
		{"backoff inverted", func(c *Config) { c.Sync.BackoffMax = time.Second }, "below sync.backoff_min"},
		{"lease shorter than a submission", func(c *Config) { c.Sync.LeaseTTL = c.Remote.Timeout }, "sync.lease_ttl"},
		{"bad collection name", func(c *Config) { c.Collections[0].Name = "has space" }, "collections"},
		{"no collections", func(c *Config) { c.Collections = nil }, "collections"},
		{"unknown parent", func(c *Config) {
			c.Collections = append(c.Collections, record.CollectionSpec{Name: "orphan", Parent: "missing"})
		}, "parent collection not declared"},
		{"zero retention", func(c *Config) { c.Sync.Retention = 0 }, ""},
		{"probe enabled", func(c *Config) { c.Remote.HealthURL = "http://localhost/health" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestYAML_RoundTrip(t *testing.T) {
	cfg, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "backoff_max: 10m0s")

	path := filepath.Join(t.TempDir(), "ferry.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o644))

	again, err := Load(path)
	require.NoError(t, err)

	cfg.File, again.File = "", ""
	assert.Equal(t, cfg, again)
}
