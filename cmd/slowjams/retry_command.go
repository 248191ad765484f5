package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job at its failed stage",
		Long:  "Returns a failed job to the queue with a fresh attempt budget for the stage that failed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runRetry(cmd, ctx, id)
		},
	}
}

func runRetry(cmd *cobra.Command, ctx *commandContext, id int64) error {
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
	if job.Status != queue.StatusFailed {
		return fmt.Errorf("job %d is %s; only failed jobs can be retried", id, job.Status)
	}

	job.MarkRequeued()
	changed, err := store.UpdateIfStatus(cmd.Context(), job, queue.StatusFailed)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	if !changed {
		return fmt.Errorf("job %d changed state; run retry again", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued at stage %s.\n", id, formatStage(job))
	return nil
}
