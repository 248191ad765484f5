package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPriorityCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <job-id> <priority>",
		Short: "Change a waiting job's scheduling priority",
		Long:  "Sets the priority of a queued or retrying job. Running and finished jobs are not affected.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			priority, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid priority %q", args[1])
			}
			return runPriority(cmd, ctx, id, priority)
		},
	}
}

func runPriority(cmd *cobra.Command, ctx *commandContext, id int64, priority int) error {
	store, _, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	changed, err := store.SetPriority(cmd.Context(), id, priority)
	if err != nil {
		return fmt.Errorf("set priority: %w", err)
	}
	if !changed {
		return fmt.Errorf("job %d is not waiting; priority only applies to queued or retrying jobs", id)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %d priority set to %d.\n", id, priority)
	return nil
}
