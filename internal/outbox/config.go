package outbox

import (
	"context"
	"fmt"

	"github.com/roach88/ferry/internal/config"
	"github.com/roach88/ferry/internal/connectivity"
	"github.com/roach88/ferry/internal/engine"
	"github.com/roach88/ferry/internal/remote"
)

// OpenConfig builds an Outbox from cfg: the store at cfg.Store.Path, an HTTP
// adapter for cfg.Remote, and connectivity sources for the signal file and
// the health probe when configured. opts are applied after the ones derived
// from cfg.
func OpenConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Outbox, error) {
	graph, err := cfg.Graph()
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}

	httpOpts := []remote.HTTPOption{remote.WithTimeout(cfg.Remote.Timeout)}
	for k, v := range cfg.Remote.Headers {
		httpOpts = append(httpOpts, remote.WithHeader(k, v))
	}
	adapter, err := remote.NewHTTPAdapter(cfg.Remote.BaseURL, httpOpts...)
	if err != nil {
		return nil, err
	}

	monitor, sources := connectivityFromConfig(cfg)

	engineOpts := []engine.EngineOption{
		engine.WithLease(cfg.Sync.LeaseName, cfg.Sync.LeaseTTL),
		engine.WithRetryPolicy(RetryPolicy(cfg.Sync)),
		engine.WithRetention(cfg.Sync.Retention),
	}
	if cfg.Connectivity.WakeInterval > 0 {
		engineOpts = append(engineOpts, engine.WithWaker(connectivity.IntervalWaker{Interval: cfg.Connectivity.WakeInterval}))
	}

	base := []Option{
		WithSources(sources...),
		WithSyncOnEnqueue(cfg.Sync.OnEnqueue),
		WithEngineOptions(engineOpts...),
	}
	return Open(ctx, cfg.Store.Path, graph, adapter, monitor, append(base, opts...)...)
}

// RetryPolicy converts the sync section into an engine retry policy.
func RetryPolicy(c config.SyncConfig) engine.RetryPolicy {
	return engine.RetryPolicy{
		MaxAttempts:      c.MaxAttempts,
		RejectedAttempts: c.RejectedAttempts,
		BackoffMin:       c.BackoffMin,
		BackoffMax:       c.BackoffMax,
		Multiplier:       c.Multiplier,
		Jitter:           c.Jitter,
	}
}

// connectivityFromConfig expects the platform signal, plus the probe signal
// when a health URL is set. Without a signal file the platform signal starts
// at start_online and is only changed by SetOnline.
func connectivityFromConfig(cfg *config.Config) (*connectivity.Monitor, []connectivity.Source) {
	signals := []string{connectivity.DefaultSignal}
	var sources []connectivity.Source

	if cfg.Connectivity.SignalFile != "" {
		sources = append(sources, &connectivity.FileSource{Path: cfg.Connectivity.SignalFile})
	}
	if cfg.Remote.HealthURL != "" {
		signals = append(signals, connectivity.ProbeSignal)
		sources = append(sources, &connectivity.ProbeSource{
			URL:      cfg.Remote.HealthURL,
			Interval: cfg.Connectivity.ProbeInterval,
			Timeout:  cfg.Connectivity.ProbeTimeout,
		})
	}

	monitor := connectivity.NewMonitor(signals...)
	if cfg.Connectivity.SignalFile == "" && cfg.Connectivity.StartOnline {
		monitor.Report(true)
	}
	return monitor, sources
}
