package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Manage redeemable rewards",
}

var rewardCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a redeemable reward",
	Long: `Register a reward that subjects can redeem with points. Stock and the
redemption caps use -1 for unlimited.

Example:
  opsctl reward create --name "Free coffee" --cost 500 --stock 100 --per-user-limit 1`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		cost, _ := flags.GetInt64("cost")
		stock, _ := flags.GetInt64("stock")
		totalLimit, _ := flags.GetInt64("total-limit")
		perUserLimit, _ := flags.GetInt64("per-user-limit")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}
		if cost <= 0 {
			cmd.Println("Error: --cost must be positive")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		reward, err := client.CreateReward(api.CreateRewardRequest{
			Name:         name,
			Cost:         cost,
			Stock:        stock,
			TotalLimit:   totalLimit,
			PerUserLimit: perUserLimit,
		})
		if err != nil {
			cmd.Printf("Error creating reward: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Reward created!\n")
		cmd.Printf("Reward ID: %s\n", reward.ID)
		cmd.Printf("Redeem with: opsctl balance redeem <subject> --reward %s\n", reward.ID)
	},
}

var rewardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rewards",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		rewards, err := client.ListRewards()
		if err != nil {
			cmd.Printf("Error listing rewards: %s\n", err)
			os.Exit(1)
		}

		if len(rewards) == 0 {
			cmd.Println("No rewards found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "REWARD ID\tNAME\tCOST\tSTOCK\tREDEEMED")
		for _, r := range rewards {
			stock := fmt.Sprint(r.Stock)
			if r.Stock < 0 {
				stock = "unlimited"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
				r.ID,
				truncate(r.Name, 40),
				r.Cost,
				stock,
				r.RedeemedCount,
			)
		}
		w.Flush()
	},
}

func init() {
	rewardCreateCmd.Flags().StringP("name", "n", "", "Reward name (required)")
	rewardCreateCmd.Flags().Int64P("cost", "c", 0, "Cost in points (required)")
	rewardCreateCmd.Flags().Int64("stock", -1, "Units in stock, -1 for unlimited")
	rewardCreateCmd.Flags().Int64("total-limit", -1, "Cap on total redemptions, -1 for unlimited")
	rewardCreateCmd.Flags().Int64("per-user-limit", -1, "Cap on redemptions per subject, -1 for unlimited")

	rootCmd.AddCommand(rewardCmd)
	rewardCmd.AddCommand(rewardCreateCmd)
	rewardCmd.AddCommand(rewardListCmd)
}
