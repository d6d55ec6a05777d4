package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"covermill/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List cover jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			payloads, err := apiClient.listJobs(cmd.Context(), statusFilters)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, payloads)
			}
			if len(payloads) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}

			rows := make([][]string, 0, len(payloads))
			for _, job := range payloads {
				rows = append(rows, []string{
					job.ID,
					job.Status,
					job.Stage,
					strconv.Itoa(job.Progress) + "%",
					job.ModelID,
					job.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Status", "Stage", "Progress", "Model", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := apiClient.describeJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, job)
			}
			printJobDetail(cmd, job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func printJobDetail(cmd *cobra.Command, job api.JobPayload) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:        %s\n", job.ID)
	fmt.Fprintf(out, "Status:     %s\n", job.Status)
	if job.Stage != "" {
		fmt.Fprintf(out, "Stage:      %s\n", job.Stage)
	}
	fmt.Fprintf(out, "Progress:   %d%%\n", job.Progress)
	if job.ModelID != "" {
		fmt.Fprintf(out, "Model:      %s\n", job.ModelID)
	}
	fmt.Fprintf(out, "Pitch:      %+d semitones\n", job.PitchShift)
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", job.ErrorMessage)
	}
	if job.CancelRequested {
		fmt.Fprintln(out, "Cancel:     requested")
	}
	fmt.Fprintf(out, "Created:    %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:    %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.ExpiresAt != nil {
		fmt.Fprintf(out, "Expires:    %s\n", job.ExpiresAt.Local().Format(time.RFC3339))
	}
	if job.OutputAvailable {
		fmt.Fprintf(out, "Result:     ready (covermill result %s)\n", job.ID)
	}
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var modelID string
	var pitchShift int
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit --voice <file> --song <file>",
		Short: "Submit a new cover job",
		RunE: func(cmd *cobra.Command, args []string) error {
			voicePath, err := cmd.Flags().GetString("voice")
			if err != nil {
				return err
			}
			songPath, err := cmd.Flags().GetString("song")
			if err != nil {
				return err
			}

			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := apiClient.submitJob(cmd.Context(), voicePath, songPath, modelID, pitchShift)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s\n", job.ID)

			if !wait {
				return nil
			}
			return waitForJob(cmd, apiClient, job.ID)
		},
	}
	cmd.Flags().String("voice", "", "Reference voice recording")
	cmd.Flags().String("song", "", "Song to cover")
	cmd.Flags().StringVar(&modelID, "model", "", "Voice model id (defaults to the server's configured model)")
	cmd.Flags().IntVar(&pitchShift, "pitch", 0, "Pitch shift in semitones")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the job reaches a terminal state")
	_ = cmd.MarkFlagRequired("voice")
	_ = cmd.MarkFlagRequired("song")
	return cmd
}

func waitForJob(cmd *cobra.Command, apiClient *client, jobID string) error {
	lastStage := ""
	for {
		job, err := apiClient.describeJob(cmd.Context(), jobID)
		if err != nil {
			return err
		}
		if job.Stage != lastStage && job.Stage != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d%%)\n", job.Stage, job.Progress)
			lastStage = job.Stage
		}
		switch job.Status {
		case "succeeded":
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s succeeded\n", jobID)
			return nil
		case "failed":
			return fmt.Errorf("job %s failed: %s", jobID, job.ErrorMessage)
		case "canceled":
			return fmt.Errorf("job %s was canceled", jobID)
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := apiClient.cancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch resp.Outcome {
			case "already_terminal":
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s already finished (%s); nothing to cancel\n", args[0], resp.Job.Status)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", args[0])
			}
			return nil
		},
	}
	return cmd
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Download the finished cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := ctx.apiClient()
			if err != nil {
				return err
			}
			dest, err := apiClient.downloadResult(cmd.Context(), args[0], strings.TrimSpace(output))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to <job-id>.wav)")
	return cmd
}
