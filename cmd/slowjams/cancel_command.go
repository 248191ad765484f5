package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job",
		Long:  "Cancels a waiting job immediately. A running job is asked to stop; the daemon enforces the grace period.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runCancel(cmd, ctx, id, note)
		},
	}

	cmd.Flags().StringVar(&note, "note", "cancelled from the command line", "Audit note recorded with the cancellation")
	return cmd
}

func runCancel(cmd *cobra.Command, ctx *commandContext, id int64, note string) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	job, err := store.GetByID(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %d not found", id)
	}

	switch {
	case job.Status.IsTerminal():
		fmt.Fprintf(cmd.OutOrStdout(), "Job %d is already %s.\n", id, job.Status)
		return nil
	case job.Status == queue.StatusRunning:
		// The daemon owns the running attempt; flag the row and let its
		// heartbeat pick the request up.
		requested, err := store.RequestCancel(cmd.Context(), id, note)
		if err != nil {
			return fmt.Errorf("request cancellation: %w", err)
		}
		if !requested {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d changed state; run cancel again.\n", id)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for running job %d.\n", id)
		return nil
	default:
		expected := job.Status
		job.MarkCancelled(note)
		changed, err := store.UpdateIfStatus(cmd.Context(), job, expected)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if !changed {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d changed state; run cancel again.\n", id)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %d cancelled.\n", id)
		return nil
	}
}
