package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/notesync/internal/sync"
)

// defaultCleanupAge is how long terminal queue rows are kept by default.
const defaultCleanupAge = 7 * 24 * time.Hour

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the operation queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRetryCmd())
	cmd.AddCommand(newQueueCleanupCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending and failed operations",
		RunE:  runQueueList,
	}
}

func runQueueList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	var rows [][]string

	for _, status := range []sync.OperationStatus{sync.StatusPending, sync.StatusInProgress, sync.StatusFailed} {
		ops, err := a.queue.ListByStatus(ctx, status)
		if err != nil {
			return err
		}

		for _, op := range ops {
			rows = append(rows, []string{
				op.Path,
				string(op.Type),
				string(op.Status),
				fmt.Sprintf("%d/%d", op.RetryCount, op.MaxRetries),
				formatNano(op.CreatedAt),
				op.ErrorMsg,
			})
		}
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	printTable(out, []string{"PATH", "TYPE", "STATUS", "RETRIES", "CREATED", "ERROR"}, rows)

	return nil
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed operations that still have retry budget",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.queue.RetryFailedOperations(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d operation(s).\n", count)

			return nil
		},
	}
}

func newQueueCleanupCmd() *cobra.Command {
	var age time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old completed, cancelled, and failed operations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cutoff := sync.NowNano() - age.Nanoseconds()

			count, err := a.queue.CleanupCompleted(cmd.Context(), cutoff)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d operation(s).\n", count)

			return nil
		},
	}

	cmd.Flags().DurationVar(&age, "older-than", defaultCleanupAge, "minimum age of rows to delete")

	return cmd
}
