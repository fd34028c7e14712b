package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect and reset circuit breakers",
	Long: `Circuit breakers track the health of downstream dependencies. An open
breaker refuses calls until its timeout elapses; a half-open breaker
admits probes until enough succeed to close it again.`,
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status [dependency]",
	Short: "Show breaker state for one dependency, or all",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		if len(args) == 1 {
			breaker, err := client.GetBreaker(args[0])
			if err != nil {
				cmd.Printf("Error fetching breaker: %s\n", err)
				os.Exit(1)
			}
			printBreaker(cmd, breaker)
			return
		}

		breakers, err := client.ListBreakers()
		if err != nil {
			cmd.Printf("Error listing breakers: %s\n", err)
			os.Exit(1)
		}

		if len(breakers) == 0 {
			cmd.Println("No breakers found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DEPENDENCY\tSTATE\tFAILURES\tSUCCESSES\tOPENED\tLAST ERROR")
		for _, b := range breakers {
			opened := "-"
			if b.OpenedAt != nil {
				opened = relativeTime(*b.OpenedAt) + " ago"
			}
			lastErr := ""
			if b.LastError != nil {
				lastErr = truncate(*b.LastError, 40)
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d/%d\t%s\t%s\n",
				b.Dependency,
				b.State,
				b.ConsecutiveFailures,
				b.FailureThreshold,
				b.ConsecutiveSuccesses,
				b.SuccessThreshold,
				opened,
				lastErr,
			)
		}
		w.Flush()
	},
}

func printBreaker(cmd *cobra.Command, b *api.BreakerResponse) {
	icon := statusIcon(b.State)
	cmd.Printf("%s %sBreaker Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sDependency:%s  %s\n", colorDim, colorReset, b.Dependency)
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, colorizeStatus(b.State))
	cmd.Printf("%sFailures:%s    %d (opens at %d)\n", colorDim, colorReset, b.ConsecutiveFailures, b.FailureThreshold)
	cmd.Printf("%sSuccesses:%s   %d (closes at %d)\n", colorDim, colorReset, b.ConsecutiveSuccesses, b.SuccessThreshold)
	cmd.Printf("%sTimeout:%s     %ds\n", colorDim, colorReset, b.TimeoutSeconds)

	if b.OpenedAt != nil {
		cmd.Printf("%sOpened:%s      %s\n", colorDim, colorReset, formatTimeWithRelative(b.OpenedAt))
		probeAt := b.OpenedAt.Add(time.Duration(b.TimeoutSeconds) * time.Second)
		if b.State == "open" && time.Now().Before(probeAt) {
			cmd.Printf("%sProbe after:%s %s\n", colorDim, colorReset, probeAt.Format(time.RFC3339))
		}
	}
	if b.LastError != nil {
		cmd.Printf("%sLast error:%s  %s%s%s\n", colorDim, colorReset, colorRed, *b.LastError, colorReset)
	}
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset [dependency]",
	Short: "Force a breaker closed and clear its counters",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		breaker, err := client.ResetBreaker(args[0])
		if err != nil {
			cmd.Printf("Error resetting breaker: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Breaker for %s reset to %s.\n", breaker.Dependency, breaker.State)
	},
}

func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}
