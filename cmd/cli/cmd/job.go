package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect background jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to the queue",
	Long: `Submit a background job for asynchronous processing. The payload is
raw JSON handed to the job handler unchanged.

Example:
  opsctl job submit --type webhook.deliver --payload '{"url":"https://example.com/hook","body":"{}"}' --priority 80`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		jobType, _ := flags.GetString("type")
		payload, _ := flags.GetString("payload")
		priority, _ := flags.GetInt("priority")
		maxAttempts, _ := flags.GetInt("max-attempts")
		at, _ := flags.GetString("at")

		if jobType == "" {
			cmd.Println("Error: --type is required")
			return
		}
		if payload != "" && !json.Valid([]byte(payload)) {
			cmd.Println("Error: --payload must be valid JSON")
			return
		}

		req := api.EnqueueJobRequest{
			Type:        jobType,
			Payload:     json.RawMessage(payload),
			Priority:    priority,
			MaxAttempts: maxAttempts,
		}
		if at != "" {
			scheduledAt, err := time.Parse(time.RFC3339, at)
			if err != nil {
				cmd.Printf("Error: invalid --at timestamp, want RFC3339: %s\n", err)
				return
			}
			req.ScheduledAt = &scheduledAt
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.EnqueueJob(req)
		if err != nil {
			cmd.Printf("Error submitting job: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Job submitted!\n")
		cmd.Printf("Job ID: %s\n", resp.JobID)
		cmd.Printf("Check status with: opsctl job status %s\n", resp.JobID)
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status for a job, including its current state (pending, processing, completed, failed, dead_letter), attempts, and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		job, err := client.GetJob(args[0])
		if err != nil {
			cmd.Printf("Error fetching job: %s\n", err)
			os.Exit(1)
		}

		printJobStatus(cmd, job)
	},
}

func printJobStatus(cmd *cobra.Command, job *api.JobResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sType:%s      %s\n", colorDim, colorReset, job.Type)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sPriority:%s  %d\n", colorDim, colorReset, job.Priority)
	cmd.Printf("%sAttempts:%s  %d/%d\n", colorDim, colorReset, job.Attempts, job.MaxAttempts)

	if job.LastError != nil {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, *job.LastError, colorReset)
	}
	if job.RetriedFrom != nil {
		cmd.Printf("%sRetry of:%s %s\n", colorDim, colorReset, *job.RetriedFrom)
	}

	cmd.Printf("%sStarted:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(job.StartedAt))

	if job.StartedAt != nil && job.FinishedAt != nil {
		duration := job.FinishedAt.Sub(*job.StartedAt)
		cmd.Printf("%sFinished:%s  %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.FinishedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s  %s\n", colorDim, colorReset, formatTimeWithRelative(job.FinishedAt))
	}

	if len(job.Result) > 0 {
		cmd.Printf("%sResult:%s    %s\n", colorDim, colorReset, string(job.Result))
	}
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		jobs, err := client.ListJobs(status, limit, offset)
		if err != nil {
			cmd.Printf("Error listing jobs: %s\n", err)
			os.Exit(1)
		}

		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tTYPE\tSTATUS\tPRIORITY\tATTEMPTS\tSCHEDULED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
				j.ID,
				truncate(j.Type, 30),
				j.Status,
				j.Priority,
				j.Attempts,
				j.MaxAttempts,
				relativeTime(j.ScheduledAt)+" ago",
			)
		}
		w.Flush()
	},
}

func init() {
	jobSubmitCmd.Flags().StringP("type", "T", "", "Job type, e.g. webhook.deliver (required)")
	jobSubmitCmd.Flags().StringP("payload", "p", "", "Job payload as raw JSON")
	jobSubmitCmd.Flags().Int("priority", 0, "Priority 0-100; higher runs first")
	jobSubmitCmd.Flags().Int("max-attempts", 0, "Attempts before dead-lettering (default 3)")
	jobSubmitCmd.Flags().String("at", "", "Run no earlier than this time, RFC3339 (default now)")

	jobListCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, dead_letter)")
	jobListCmd.Flags().Int("limit", 20, "Number of jobs to list")
	jobListCmd.Flags().Int("offset", 0, "Offset for pagination")

	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)
}
