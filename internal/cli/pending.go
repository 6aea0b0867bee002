package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// PendingResult is the output of the pending command.
type PendingResult struct {
	Pending int `json:"pending"`
}

// WriteText prints the bare count.
func (r PendingResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Pending)
	return err
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the number of unsynced records",
		Long: `Print the number of unsynced records across all collections,
records parked for review included.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.outbox.PendingCount(commandContext(cmd))
			if err != nil {
				return s.out.Fail(ExitFailure, CodeStorage, "failed to count pending records", err)
			}
			return s.out.Success(PendingResult{Pending: n})
		},
	}
}
