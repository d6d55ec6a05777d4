package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := apiClient.status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, status)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Daemon running (pid %d)\n", status.PID)
			fmt.Fprintf(cmd.OutOrStdout(), "Jobs DB: %s\n", status.JobsDBPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Lock:    %s\n", status.LockFilePath)
			fmt.Fprintln(cmd.OutOrStdout())

			rows := [][]string{{
				strconv.Itoa(status.Jobs.Total),
				strconv.Itoa(status.Jobs.Queued),
				strconv.Itoa(status.Jobs.Running),
				strconv.Itoa(status.Jobs.Succeeded),
				strconv.Itoa(status.Jobs.Failed),
				strconv.Itoa(status.Jobs.Canceled),
			}}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Total", "Queued", "Running", "Succeeded", "Failed", "Canceled"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
