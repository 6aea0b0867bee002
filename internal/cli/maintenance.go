package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// PruneResult is the output of the prune command.
type PruneResult struct {
	Pruned int64 `json:"pruned"`
}

// WriteText prints the number of deleted records.
func (r PruneResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "pruned %d synced records\n", r.Pruned)
	return err
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete synced records past retention",
		Long: `Delete synced records older than --older-than, or sync.retention from the
config when the flag is not given. Unsynced records are never pruned.

Example:
  ferry prune --older-than 168h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			retention := olderThan
			if retention == 0 {
				retention = s.cfg.Sync.Retention
			}
			if retention <= 0 {
				return s.out.Fail(ExitCommandError, CodeInput,
					"no retention: pass --older-than or set sync.retention", nil)
			}

			n, err := s.outbox.Prune(commandContext(cmd), retention)
			if err != nil {
				return s.out.Fail(ExitFailure, CodeStorage, "failed to prune records", err)
			}
			return s.out.Success(PruneResult{Pruned: n})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Delete synced records older than this")
	return cmd
}

// ClearResult is the output of the clear command.
type ClearResult struct {
	Cleared bool `json:"cleared"`
}

// WriteText confirms the wipe.
func (r ClearResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, "outbox cleared")
	return err
}

var errConfirmRequired = errors.New("refusing to clear without --yes")

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase all local data",
		Long: `Erase every record, id mapping, lease and setting from the local store.
Unsynced records are lost. Intended for sign-out.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				out := newFormatter(rootOpts, cmd)
				return out.Fail(ExitCommandError, CodeInput, errConfirmRequired.Error(), errConfirmRequired)
			}

			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.outbox.Clear(commandContext(cmd)); err != nil {
				return s.out.Fail(ExitFailure, CodeStorage, "failed to clear outbox", err)
			}
			return s.out.Success(ClearResult{Cleared: true})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm erasing all local data")
	return cmd
}
