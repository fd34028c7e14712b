package cmd

import (
	"os"
	"time"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Work with the durable rate limiter",
}

var ratelimitCheckCmd = &cobra.Command{
	Use:   "check [identifier]",
	Short: "Count one request against a fixed window",
	Long: `Count one request for the identifier and report whether it stayed
within the limit. The window is shared across all callers hitting the
same identifier, so this consumes quota even when used interactively.

Example:
  opsctl ratelimit check api-key-7f3a --limit 100 --window 60`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		limit, _ := flags.GetInt64("limit")
		window, _ := flags.GetInt("window")

		if limit <= 0 {
			cmd.Println("Error: --limit must be positive")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		res, err := client.CheckRate(api.RateCheckRequest{
			Identifier:    args[0],
			Limit:         limit,
			WindowSeconds: window,
		})
		if err != nil {
			cmd.Printf("Error checking rate: %s\n", err)
			os.Exit(1)
		}

		if res.Allowed {
			cmd.Printf("✓ Allowed: %d/%d used in the window starting %s\n",
				res.Count, res.Limit, res.WindowStart.Format(time.RFC3339))
			return
		}

		cmd.Printf("✗ Denied: %d/%d used, retry in %ds\n", res.Count, res.Limit, res.RetryAfterSeconds)
		os.Exit(1)
	},
}

func init() {
	ratelimitCheckCmd.Flags().Int64P("limit", "l", 0, "Requests allowed per window (required)")
	ratelimitCheckCmd.Flags().IntP("window", "w", 0, "Window length in seconds (default 60)")

	rootCmd.AddCommand(ratelimitCmd)
	ratelimitCmd.AddCommand(ratelimitCheckCmd)
}
