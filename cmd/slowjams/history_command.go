package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slowjams/internal/queue"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		statusFlag string
		limit      int
		offset     int
		sinceFlag  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished jobs and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, ctx, statusFlag, sinceFlag, limit, offset)
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by terminal status (comma separated)")
	cmd.Flags().StringVar(&sinceFlag, "since", "", "Only jobs updated within this window (e.g. 24h, 7d)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func runHistory(cmd *cobra.Command, ctx *commandContext, statusFlag, sinceFlag string, limit, offset int) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	filter := queue.HistoryFilter{Limit: limit, Offset: offset}
	if statusFlag != "" {
		for _, raw := range strings.Split(statusFlag, ",") {
			status, ok := queue.ParseStatus(raw)
			if !ok {
				return fmt.Errorf("unknown status %q", strings.TrimSpace(raw))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if sinceFlag != "" {
		window, err := parseWindow(sinceFlag)
		if err != nil {
			return err
		}
		since := time.Now().Add(-window)
		filter.Since = &since
	}

	jobs, err := store.History(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	stats, err := store.Statistics(cmd.Context())
	if err != nil {
		return fmt.Errorf("load statistics: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No finished jobs.")
	} else {
		rows := make([][]string, 0, len(jobs))
		for _, job := range jobs {
			detail := job.ResultRef
			if job.Status == queue.StatusFailed {
				detail = truncate(job.ErrorMessage, 48)
			} else if job.Status == queue.StatusCancelled {
				detail = truncate(job.CancelNote, 48)
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", job.ID),
				string(job.Status),
				truncate(job.SourceRef, 40),
				formatSize(job.ResultBytes),
				formatAge(job.UpdatedAt),
				truncate(detail, 48),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"ID", "Status", "Source", "Size", "Finished", "Detail"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}

	fmt.Fprintf(out, "Totals: %d completed, %d failed, %d cancelled, %s produced\n",
		stats.Completed, stats.Failed, stats.Cancelled, formatSize(stats.TotalBytes))
	return nil
}

// parseWindow accepts Go durations plus a day suffix (e.g. "7d").
func parseWindow(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		var days float64
		if _, err := fmt.Sscanf(value, "%fd", &days); err == nil && days > 0 {
			return time.Duration(days * float64(24*time.Hour)), nil
		}
	}
	window, err := time.ParseDuration(value)
	if err != nil || window <= 0 {
		return 0, fmt.Errorf("invalid window %q", value)
	}
	return window, nil
}
