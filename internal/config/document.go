package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ferry/internal/record"
)

// document is the file form of Config: durations are Go duration strings.
// It is what the CUE schema checks and what YAML renders.
type document struct {
	Store        storeDoc                `json:"store" yaml:"store"`
	Remote       remoteDoc               `json:"remote" yaml:"remote"`
	Connectivity connectivityDoc         `json:"connectivity" yaml:"connectivity"`
	Sync         syncDoc                 `json:"sync" yaml:"sync"`
	Collections  []record.CollectionSpec `json:"collections" yaml:"collections"`
	Log          logDoc                  `json:"log" yaml:"log"`
}

type storeDoc struct {
	Path string `json:"path" yaml:"path"`
}

type remoteDoc struct {
	BaseURL   string            `json:"base_url" yaml:"base_url"`
	Timeout   string            `json:"timeout" yaml:"timeout"`
	HealthURL string            `json:"health_url,omitempty" yaml:"health_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

type connectivityDoc struct {
	SignalFile    string `json:"signal_file,omitempty" yaml:"signal_file,omitempty"`
	ProbeInterval string `json:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout  string `json:"probe_timeout" yaml:"probe_timeout"`
	WakeInterval  string `json:"wake_interval" yaml:"wake_interval"`
	StartOnline   bool   `json:"start_online" yaml:"start_online"`
}

type syncDoc struct {
	LeaseName        string  `json:"lease_name" yaml:"lease_name"`
	LeaseTTL         string  `json:"lease_ttl" yaml:"lease_ttl"`
	MaxAttempts      int     `json:"max_attempts" yaml:"max_attempts"`
	RejectedAttempts int     `json:"rejected_attempts" yaml:"rejected_attempts"`
	BackoffMin       string  `json:"backoff_min" yaml:"backoff_min"`
	BackoffMax       string  `json:"backoff_max" yaml:"backoff_max"`
	Multiplier       float64 `json:"multiplier" yaml:"multiplier"`
	Jitter           float64 `json:"jitter" yaml:"jitter"`
	Retention        string  `json:"retention" yaml:"retention"`
	OnEnqueue        bool    `json:"on_enqueue" yaml:"on_enqueue"`
}

type logDoc struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

func (c *Config) document() document {
	return document{
		Store: storeDoc{Path: c.Store.Path},
		Remote: remoteDoc{
			BaseURL:   c.Remote.BaseURL,
			Timeout:   c.Remote.Timeout.String(),
			HealthURL: c.Remote.HealthURL,
			Headers:   c.Remote.Headers,
		},
		Connectivity: connectivityDoc{
			SignalFile:    c.Connectivity.SignalFile,
			ProbeInterval: c.Connectivity.ProbeInterval.String(),
			ProbeTimeout:  c.Connectivity.ProbeTimeout.String(),
			WakeInterval:  c.Connectivity.WakeInterval.String(),
			StartOnline:   c.Connectivity.StartOnline,
		},
		Sync: syncDoc{
			LeaseName:        c.Sync.LeaseName,
			LeaseTTL:         c.Sync.LeaseTTL.String(),
			MaxAttempts:      c.Sync.MaxAttempts,
			RejectedAttempts: c.Sync.RejectedAttempts,
			BackoffMin:       c.Sync.BackoffMin.String(),
			BackoffMax:       c.Sync.BackoffMax.String(),
			Multiplier:       c.Sync.Multiplier,
			Jitter:           c.Sync.Jitter,
			Retention:        c.Sync.Retention.String(),
			OnEnqueue:        c.Sync.OnEnqueue,
		},
		Collections: c.Collections,
		Log: logDoc{
			Level:      c.Log.Level,
			File:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
		},
	}
}

// YAML renders c in config file form. Loading the output yields c again.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c.document()); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
