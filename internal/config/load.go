package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides: FERRY_STORE_PATH overrides
	// store.path, FERRY_SYNC_MAX_ATTEMPTS overrides sync.max_attempts.
	EnvPrefix = "FERRY"

	configFileName = "ferry"
)

// Load reads the configuration.
//
// An explicit path must exist. Without one, ferry.yaml is looked up in the
// working directory and then in the user config directory; a missing file is
// not an error and leaves the defaults in place. Environment variables
// override both. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "ferry"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.health_url", d.Remote.HealthURL)

	v.SetDefault("connectivity.signal_file", d.Connectivity.SignalFile)
	v.SetDefault("connectivity.probe_interval", d.Connectivity.ProbeInterval)
	v.SetDefault("connectivity.probe_timeout", d.Connectivity.ProbeTimeout)
	v.SetDefault("connectivity.wake_interval", d.Connectivity.WakeInterval)
	v.SetDefault("connectivity.start_online", d.Connectivity.StartOnline)

	v.SetDefault("sync.lease_name", d.Sync.LeaseName)
	v.SetDefault("sync.lease_ttl", d.Sync.LeaseTTL)
	v.SetDefault("sync.max_attempts", d.Sync.MaxAttempts)
	v.SetDefault("sync.rejected_attempts", d.Sync.RejectedAttempts)
	v.SetDefault("sync.backoff_min", d.Sync.BackoffMin)
	v.SetDefault("sync.backoff_max", d.Sync.BackoffMax)
	v.SetDefault("sync.multiplier", d.Sync.Multiplier)
	v.SetDefault("sync.jitter", d.Sync.Jitter)
	v.SetDefault("sync.retention", d.Sync.Retention)
	v.SetDefault("sync.on_enqueue", d.Sync.OnEnqueue)

	collections := make([]map[string]any, 0, len(d.Collections))
	for _, c := range d.Collections {
		collections = append(collections, map[string]any{
			"name":         c.Name,
			"parent":       c.Parent,
			"parent_field": c.ParentField,
		})
	}
	v.SetDefault("collections", collections)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}
