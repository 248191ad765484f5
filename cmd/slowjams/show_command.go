package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
	"slowjams/internal/stage"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return runShow(cmd, ctx, id)
		},
	}
}

func runShow(cmd *cobra.Command, ctx *commandContext, id int64) error {
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

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d\n", job.ID)
	fmt.Fprintf(out, "  Source:    %s\n", job.SourceRef)
	fmt.Fprintf(out, "  Status:    %s\n", job.Status)
	fmt.Fprintf(out, "  Priority:  %d\n", job.Priority)
	fmt.Fprintf(out, "  Plan:      %s\n", formatPlan(job))
	fmt.Fprintf(out, "  Stage:     %s\n", formatStage(job))
	fmt.Fprintf(out, "  Created:   %s\n", job.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "  Updated:   %s (%s)\n", job.UpdatedAt.Local().Format(time.RFC1123), formatAge(job.UpdatedAt))

	if len(job.Attempts) > 0 {
		fmt.Fprintln(out, "  Attempts:")
		for _, kind := range stage.Kinds() {
			if count := job.Attempts[kind]; count > 0 {
				fmt.Fprintf(out, "    %-10s %d\n", kind, count)
			}
		}
	}
	if job.NextRetryAt != nil {
		fmt.Fprintf(out, "  Next retry: %s\n", job.NextRetryAt.Local().Format(time.RFC1123))
	}
	if job.Status == queue.StatusCompleted {
		fmt.Fprintf(out, "  Result:    %s (%s)\n", job.ResultRef, formatSize(job.ResultBytes))
	}
	if job.FailedStage != "" {
		fmt.Fprintf(out, "  Failed in: %s\n", job.FailedStage)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s\n", job.ErrorMessage)
	}
	if job.CancelNote != "" {
		fmt.Fprintf(out, "  Cancelled: %s\n", job.CancelNote)
	}
	return nil
}
