package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued, running and retrying jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, ctx, statusFlag)
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (comma separated)")
	return cmd
}

func runList(cmd *cobra.Command, ctx *commandContext, statusFlag string) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var jobs []*queue.Job
	if statusFlag == "" {
		jobs, err = store.ListActive(cmd.Context())
	} else {
		var statuses []queue.Status
		for _, raw := range strings.Split(statusFlag, ",") {
			status, ok := queue.ParseStatus(raw)
			if !ok {
				return fmt.Errorf("unknown status %q", strings.TrimSpace(raw))
			}
			statuses = append(statuses, status)
		}
		jobs, err = store.List(cmd.Context(), statuses...)
	}
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			string(job.Status),
			formatStage(job),
			fmt.Sprintf("%d", job.Priority),
			truncate(job.SourceRef, 48),
			formatAge(job.UpdatedAt),
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Status", "Stage", "Pri", "Source", "Updated"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}
