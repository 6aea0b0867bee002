package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ferry/internal/outbox"
)

// StatusResult wraps an outbox status for output.
type StatusResult struct {
	outbox.Status
}

// WriteText prints a summary followed by a per-collection table.
func (r StatusResult) WriteText(w io.Writer) error {
	lastSync := "never"
	if !r.LastSyncAt.IsZero() {
		lastSync = r.LastSyncAt.UTC().Format(time.RFC3339)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "online:\t%s\n", yesNo(r.Online))
	fmt.Fprintf(tw, "signals:\t%s\n", formatSignals(r.Signals))
	fmt.Fprintf(tw, "pending:\t%d\n", r.Pending)
	fmt.Fprintf(tw, "needs review:\t%d\n", r.NeedsReview)
	fmt.Fprintf(tw, "last sync:\t%s\n", lastSync)
	if r.LastPass != nil {
		fmt.Fprintf(tw, "last pass:\tsynced %d, failed %d, deferred %d\n",
			r.LastPass.Synced, r.LastPass.Failed, r.LastPass.Deferred)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tPARENT\tTOTAL\tUNSYNCED\tNEEDS REVIEW")
	for _, c := range r.Collections {
		parent := c.Parent
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", c.Name, parent, c.Total, c.Unsynced, c.NeedsReview)
	}
	return tw.Flush()
}

// formatSignals renders signals as "platform=up probe=down", sorted by name.
func formatSignals(signals map[string]bool) string {
	if len(signals) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(signals))
	for _, name := range slices.Sorted(maps.Keys(signals)) {
		state := "down"
		if signals[name] {
			state = "up"
		}
		parts = append(parts, name+"="+state)
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and connectivity state",
		Long: `Show connectivity, pending and needs-review counts, the last pass, and
per-collection record counts.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts, true)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.outbox.Status(commandContext(cmd))
			if err != nil {
				return s.out.Fail(ExitFailure, CodeStorage, "failed to read status", err)
			}
			return s.out.Success(StatusResult{Status: st})
		},
	}
}
