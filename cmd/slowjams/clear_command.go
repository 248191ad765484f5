package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newClearCommand(ctx *commandContext) *cobra.Command {
	var (
		failed    bool
		all       bool
		olderThan string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the database",
		Long:  "Removes completed jobs by default. --failed removes failed jobs, --all removes every terminal job.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd, ctx, failed, all, olderThan)
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed jobs instead of completed ones")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every finished job (completed, failed, cancelled)")
	cmd.Flags().StringVar(&olderThan, "older-than", "", "With --all, only jobs finished before this window (e.g. 30d)")
	return cmd
}

func runClear(cmd *cobra.Command, ctx *commandContext, failed, all bool, olderThan string) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var removed int64
	switch {
	case all:
		var cutoff *time.Time
		if olderThan != "" {
			window, err := parseWindow(olderThan)
			if err != nil {
				return err
			}
			at := time.Now().Add(-window)
			cutoff = &at
		}
		removed, err = store.ClearHistory(cmd.Context(), cutoff)
	case failed:
		removed, err = store.ClearFailed(cmd.Context())
	default:
		removed, err = store.ClearCompleted(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("clear jobs: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s).\n", removed)
	return nil
}
