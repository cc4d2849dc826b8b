package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scoville/internal/config"
	"scoville/internal/logging"
	"scoville/internal/queue"
	"scoville/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the durable job queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

// openQueue opens the queue over the shared database without starting
// workers.
func openQueue(ctx *commandContext) (*queue.Queue, *store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	q, err := queue.New(st.DB(), logging.NewNop(), queue.Options{})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return q, st, nil
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list <queue>",
		Short: "List recent jobs in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, st, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := q.List(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no jobs")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				errText := job.Error
				if len(errText) > 60 {
					errText = errText[:57] + "..."
				}
				rows = append(rows, []string{
					job.ID,
					string(job.State),
					fmt.Sprintf("%d", job.RetryCount),
					job.CreatedAt.Format(time.RFC3339),
					errText,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]tableColumn{
				textColumn("ID"),
				textColumn("State"),
				countColumn("Retries"),
				textColumn("Created"),
				textColumn("Error"),
			}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, st, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := q.QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderQueueStatsTable(stats))
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [queue]",
		Short: "Requeue failed jobs (all queues, or one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, st, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			names := config.QueueNames()
			if len(args) == 1 {
				names = []string{args[0]}
			}
			var total int64
			for _, name := range names {
				count, err := q.RetryFailed(cmd.Context(), name)
				if err != nil {
					return err
				}
				total += count
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d failed job(s) in %s\n", total, strings.Join(names, ", "))
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove settled jobs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, st, err := openQueue(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := q.ClearSettled(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d settled job(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only remove jobs settled earlier than this")
	return cmd
}
