package config

import (
	"time"

	"github.com/roach88/ferry/internal/record"
)

// Config is the complete ferry configuration.
type Config struct {
	Store        StoreConfig             `mapstructure:"store"`
	Remote       RemoteConfig            `mapstructure:"remote"`
	Connectivity ConnectivityConfig      `mapstructure:"connectivity"`
	Sync         SyncConfig              `mapstructure:"sync"`
	Collections  []record.CollectionSpec `mapstructure:"collections"`
	Log          LogConfig               `mapstructure:"log"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig describes the remote store reached by the HTTP adapter.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`

	// HealthURL enables the reachability probe when set.
	HealthURL string `mapstructure:"health_url"`

	// Headers are sent with every submission (e.g. an API key).
	Headers map[string]string `mapstructure:"headers"`
}

// ConnectivityConfig selects the connectivity signal sources.
type ConnectivityConfig struct {
	// SignalFile is watched for "online"/"offline" written by the host.
	SignalFile    string        `mapstructure:"signal_file"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`

	// WakeInterval ticks background passes; zero disables them.
	WakeInterval time.Duration `mapstructure:"wake_interval"`

	// StartOnline reports the platform signal Online at startup when no
	// signal file is configured.
	StartOnline bool `mapstructure:"start_online"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	LeaseName   string        `mapstructure:"lease_name"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`

	// RejectedAttempts is the shorter budget for records the remote store
	// refused with a 4xx. Zero uses max_attempts.
	RejectedAttempts int `mapstructure:"rejected_attempts"`

	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`

	// Retention prunes synced records older than this after every pass;
	// zero keeps them forever.
	Retention time.Duration `mapstructure:"retention"`

	// OnEnqueue triggers a pass after every successful enqueue.
	OnEnqueue bool `mapstructure:"on_enqueue"`
}

// LogConfig controls the process log.
type LogConfig struct {
	Level string `mapstructure:"level"`

	// File switches logging to a size-rotated file.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns the configuration used when no file or environment
// variable overrides a key.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Path: "ferry.db"},
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 30 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Sync: SyncConfig{
			LeaseName:        "sync",
			LeaseTTL:         2 * time.Minute,
			MaxAttempts:      8,
			RejectedAttempts: 3,
			BackoffMin:       5 * time.Second,
			BackoffMax:       30 * time.Minute,
			Multiplier:       2,
			Jitter:           0.2,
		},
		Collections: record.DefaultCollections(),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Graph builds the collection dependency graph.
func (c *Config) Graph() (*record.Graph, error) {
	return record.NewGraph(c.Collections)
}
