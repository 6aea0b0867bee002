package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/ferry/internal/config"
	"github.com/roach88/ferry/internal/outbox"
	"github.com/roach88/ferry/internal/store"
)

// session is what a command works with: the loaded config, logging, and an
// open outbox.
type session struct {
	cfg    *config.Config
	outbox *outbox.Outbox
	out    *OutputFormatter
	logs   io.Closer
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads the configuration and applies the global flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if opts.Online {
		cfg.Connectivity.StartOnline = true
	}
	return cfg, nil
}

// openSession loads config, installs logging and opens the outbox. One-shot
// commands pass quiet and read the connectivity sources once.
func openSession(cmd *cobra.Command, opts *RootOptions, quiet bool) (*session, error) {
	out := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}

	logs, err := setupLogging(opts, cfg.Log, cmd.ErrOrStderr(), quiet)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to set up logging", err)
	}
	out.VerboseLog("config: %s", describeConfigFile(cfg))

	ctx := commandContext(cmd)
	o, err := outbox.OpenConfig(ctx, cfg)
	if err != nil {
		logs.Close()
		return nil, out.Fail(ExitFailure, CodeStorage, "failed to open outbox", err)
	}
	if quiet {
		o.RefreshConnectivity(ctx)
	}

	return &session{cfg: cfg, outbox: o, out: out, logs: logs}, nil
}

func (s *session) Close() {
	if err := s.outbox.Close(); err != nil {
		slog.Error("error closing outbox", "error", err)
	}
	s.logs.Close()
}

func describeConfigFile(cfg *config.Config) string {
	if cfg.File == "" {
		return "defaults (no file)"
	}
	return cfg.File
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// inputError reports whether err was caused by the caller's arguments.
func inputError(err error) bool {
	return errors.Is(err, outbox.ErrInvalidPayload) ||
		errors.Is(err, outbox.ErrUnknownParent) ||
		errors.Is(err, store.ErrUnknownCollection)
}
