package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep syncing until interrupted",
		Long: `Run the sync loop in the foreground.

A pass runs whenever connectivity goes from Offline to Online, on every
wake interval tick, and on start if already Online. The signal file and
health probe are watched continuously. Ctrl-C stops after the current record.

Example:
  ferry run --db ./ferry.db --online
  ferry run --config /etc/ferry.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(rootOpts, cmd)
		},
	}
}

func runLoop(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	unsubscribe := s.outbox.OnConnectivityChange(func(online bool) {
		s.out.VerboseLog("connectivity: online=%t", online)
	})
	defer unsubscribe()

	slog.Info("sync loop starting", "db", s.cfg.Store.Path, "remote", s.cfg.Remote.BaseURL)
	fmt.Fprintln(cmd.OutOrStdout(), "ferry running. Press Ctrl-C to stop.")

	if err := s.outbox.Run(ctx); err != nil && ctx.Err() == nil {
		return s.out.Fail(ExitFailure, CodeStorage, "sync loop stopped", err)
	}

	slog.Info("sync loop stopped gracefully")
	return nil
}
