package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/fieldsync"
)

func newQueueCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the pending operation queue",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending operations in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q *fieldsync.Queue) error {
				return a.printOperations(q.ListPending(), nil, asJSON)
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line.")

	var deadJSON bool
	dead := &cobra.Command{
		Use:   "dead",
		Short: "List operations dropped after permanent failure or exhausted retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withQueue(cmd.Context(), func(q *fieldsync.Queue) error {
				letters := q.DeadLetters()
				ops := make([]fieldsync.Operation, len(letters))
				for i, d := range letters {
					ops[i] = d.Operation
				}
				return a.printOperations(ops, letters, deadJSON)
			})
		},
	}
	dead.Flags().BoolVar(&deadJSON, "json", false, "Print one JSON object per line.")

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every pending operation",
		Long: `Discard every pending operation without writing it to the backend.
Cleared operations are not recorded as dead letters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the queue without --yes")
			}
			return a.withQueue(cmd.Context(), func(q *fieldsync.Queue) error {
				n := q.Len()
				if err := q.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "cleared %d operation(s)\n", n)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm discarding pending operations.")

	cmd.AddCommand(list, dead, clearCmd)
	return cmd
}

func (a *app) withQueue(ctx context.Context, fn func(*fieldsync.Queue) error) error {
	store, err := a.cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	q, err := fieldsync.OpenQueue(ctx, fieldsync.QueueOptions{
		Store:           store,
		MaxPending:      a.cfg.Queue.MaxPending,
		DeadLetterLimit: a.cfg.Queue.DeadLetterLimit,
		Logger:          a.logger(),
	})
	if err != nil {
		return err
	}
	return fn(q)
}

type operationRow struct {
	ID         string          `json:"id"`
	Kind       fieldsync.Kind  `json:"kind"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DroppedAt  *time.Time      `json:"droppedAt,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// dead is parallel to ops when non-nil.
func (a *app) printOperations(ops []fieldsync.Operation, dead []fieldsync.DeadLetter, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(a.out)
		for i, op := range ops {
			row := operationRow{
				ID:         op.ID,
				Kind:       op.Kind(),
				EnqueuedAt: op.EnqueuedAt,
				RetryCount: op.RetryCount,
				LastError:  op.LastError,
			}
			if raw, err := op.Payload(); err == nil {
				row.Payload = raw
			}
			if dead != nil {
				row.DroppedAt = &dead[i].DroppedAt
				row.Reason = dead[i].Reason
			}
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tENQUEUED\tRETRIES\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			op.ID, op.Kind(), op.EnqueuedAt.Format(time.RFC3339), op.RetryCount, op.LastError)
	}
	return tw.Flush()
}
