package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ferry/internal/engine"
)

// SyncResult wraps a pass report for output.
type SyncResult struct {
	engine.Report
}

// WriteText prints a one-line summary of the pass.
func (r SyncResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "attempted %d, synced %d, failed %d, deferred %d, needs review %d, pruned %d\n",
		r.Attempted, r.Synced, r.Failed, r.Deferred, r.NeedsReview, r.Pruned)
	if err == nil && r.LeaseLost {
		_, err = fmt.Fprintln(w, "lease lost mid-pass; remaining collections left for the next pass")
	}
	return err
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass and exit",
		Long: `Run one sync pass: submit every due record, parents before dependents.

Connectivity is read once from the configured signal file and health probe.
A pass that cannot start (offline, lease held by another process) exits 1.

Exit codes:
  0 - Pass ran (individual records may still have failed)
  1 - Pass skipped
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			report := s.outbox.SyncNow(commandContext(cmd))
			if !report.Ran() {
				return s.out.Fail(ExitFailure, CodeSkipped,
					fmt.Sprintf("sync skipped: %s", report.Skipped), nil)
			}
			return s.out.Success(SyncResult{Report: report})
		},
	}
}
