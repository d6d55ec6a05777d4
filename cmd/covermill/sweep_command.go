package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"covermill/internal/jobs"
	"covermill/internal/lifecycle"
	"covermill/internal/logging"
)

// newSweepCommand runs one retention sweep directly against the store.
// Useful for reclaiming space while the daemon is stopped; the running
// daemon sweeps on its own schedule.
func newSweepCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired artifacts and records now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobs.Open(cfg)
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			sweeper, err := lifecycle.NewSweeper(cfg, store, logging.NewNop())
			if err != nil {
				return err
			}
			result, err := sweeper.Sweep(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Swept %d artifact set(s), deleted %d record(s), removed %d orphan workspace(s)\n",
				result.ArtifactsRemoved, result.RecordsDeleted, result.OrphansRemoved)
			return nil
		},
	}
	return cmd
}
