package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Manage the Dead Letter Queue (DLQ)",
	Long:  `Inspect and retry jobs that have permanently failed after exhausting their attempts.`,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		entries, err := client.ListDLQ(limit, offset)
		if err != nil {
			cmd.Printf("Error fetching DLQ: %s\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			if offset > 0 {
				cmd.Println("No more jobs found in DLQ.")
			} else {
				cmd.Println("No jobs found in DLQ.")
			}
			return
		}

		// Print table
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "JOB ID\tTYPE\tATTEMPTS\tFAILED AT\tERROR")
		for _, e := range entries {
			errMsg := ""
			if e.ErrorMessage != nil {
				// Truncate long error messages for the table view
				errMsg = truncate(*e.ErrorMessage, 50)
			}

			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				e.JobID,
				e.JobType,
				e.Attempts,
				e.FailedAt.Format(time.RFC3339),
				errMsg,
			)
		}
		w.Flush()
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Retry a specific job from the DLQ",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.RetryDLQ(jobID)
		if err != nil {
			cmd.Printf("Error retrying job: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Job %s re-enqueued.\n", jobID)
		cmd.Printf("  New Job ID: %s\n", resp.NewJobID)
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)

	dlqListCmd.Flags().IntP("limit", "l", 20, "Number of items in the DLQ listing")
	dlqListCmd.Flags().IntP("offset", "o", 0, "Offset for pagination")
}
