package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Parent string
}

// EnqueueResult is the output of the enqueue command.
type EnqueueResult struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Parent     string `json:"parent,omitempty"`
}

// WriteText prints the new record id alone so scripts can capture it.
func (r EnqueueResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.ID)
	return err
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <collection> [payload|-]",
		Short: "Store a mutation for later submission",
		Long: `Store a JSON payload as a new unsynced record and print its local id.

The payload is read from stdin when it is "-" or omitted. A dependent record
names its parent's local id with --parent; the parent's remote id is written
into the payload when the record is submitted.

Examples:
  ferry enqueue primaryEntityMutations '{"name":"Acme"}'
  ferry enqueue dependentMutations_A --parent <lead-id> '{"text":"call back"}'
  echo '{"name":"Acme"}' | ferry enqueue primaryEntityMutations -`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "", "local id of the parent record")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command, args []string) error {
	out := newFormatter(opts.RootOptions, cmd)

	payload, err := readPayload(cmd, args)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "failed to read payload", err)
	}

	s, err := openSession(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer s.Close()

	collection := args[0]
	id, err := s.outbox.Enqueue(commandContext(cmd), collection, json.RawMessage(payload), opts.Parent)
	if err != nil {
		if inputError(err) {
			return out.Fail(ExitCommandError, CodeInput, "enqueue rejected", err)
		}
		return out.Fail(ExitFailure, CodeStorage, "enqueue failed", err)
	}

	return out.Success(EnqueueResult{ID: id, Collection: collection, Parent: opts.Parent})
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 2 && args[1] != "-" {
		return []byte(args[1]), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, fmt.Errorf("empty payload on stdin")
	}
	return b, nil
}
