package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/store"
)

// ReviewList is the output of review list.
type ReviewList struct {
	Records []record.MutationRecord `json:"records"`
}

// WriteText prints one row per parked record.
func (l ReviewList) WriteText(w io.Writer) error {
	if len(l.Records) == 0 {
		_, err := fmt.Fprintln(w, "No records need review.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tID\tATTEMPTS\tLAST ERROR")
	for _, r := range l.Records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Collection, r.ID, r.Attempts, r.LastError)
	}
	return tw.Flush()
}

// ReviewRetryResult is the output of review retry.
type ReviewRetryResult struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// WriteText confirms the requeue.
func (r ReviewRetryResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "requeued %s/%s\n", r.Collection, r.ID)
	return err
}

// NewReviewCommand creates the review command group.
func NewReviewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Inspect and requeue records parked for review",
		Long: `Records land in review after using up their retry budget (a shorter one
when the remote store rejects the payload) or when their parent id cannot be
written into the payload. They are kept, never dropped, until requeued.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List records that need review",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.outbox.ListNeedsReview(commandContext(cmd))
			if err != nil {
				return s.out.Fail(ExitFailure, CodeStorage, "failed to list records", err)
			}
			if recs == nil {
				recs = []record.MutationRecord{}
			}
			return s.out.Success(ReviewList{Records: recs})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <collection> <id>",
		Short: "Requeue a record with a fresh retry budget",
		Long: `Requeue a needs-review record with a fresh retry budget. It is submitted
by the next pass.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			collection, id := args[0], args[1]
			if err := s.outbox.RetryReview(commandContext(cmd), collection, id); err != nil {
				if errors.Is(err, store.ErrRecordNotFound) {
					return s.out.Fail(ExitCommandError, CodeNotFound,
						fmt.Sprintf("no unsynced record %s/%s", collection, id), err)
				}
				return s.out.Fail(ExitFailure, CodeStorage, "failed to requeue record", err)
			}
			return s.out.Success(ReviewRetryResult{Collection: collection, ID: id})
		},
	})

	return cmd
}
