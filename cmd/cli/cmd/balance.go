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

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Manage point balances and the ledger",
	Long: `Credit, debit, and redeem points against a subject's balance. Every
mutation appends an immutable ledger entry; balances never go negative.`,
}

var balanceShowCmd = &cobra.Command{
	Use:   "show [subject]",
	Short: "Show a subject's balance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		bal, err := client.GetBalance(args[0])
		if err != nil {
			cmd.Printf("Error fetching balance: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("%sBalance%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sSubject:%s       %s\n", colorDim, colorReset, bal.Subject)
		cmd.Printf("%sBalance:%s       %s%d%s\n", colorDim, colorReset, colorGreen, bal.Balance, colorReset)
		cmd.Printf("%sTotal earned:%s  %d\n", colorDim, colorReset, bal.TotalEarned)
		cmd.Printf("%sTotal spent:%s   %d\n", colorDim, colorReset, bal.TotalSpent)
		if bal.EarnRateBP != 10000 {
			cmd.Printf("%sEarn rate:%s     %.2fx\n", colorDim, colorReset, float64(bal.EarnRateBP)/10000)
		}
	},
}

var balanceCreditCmd = &cobra.Command{
	Use:   "credit [subject]",
	Short: "Credit points to a subject",
	Long: `Add points to a subject's balance. Earn credits are scaled by the
subject's earn-rate multiplier; bonus and adjust credits are not.

Example:
  opsctl balance credit user-42 --amount 100 --reference "order-981" --idempotency-key "order-981-points"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		amount, _ := flags.GetInt64("amount")
		entryType, _ := flags.GetString("type")
		reference, _ := flags.GetString("reference")
		idemKey, _ := flags.GetString("idempotency-key")
		expires, _ := flags.GetString("expires")

		if amount <= 0 {
			cmd.Println("Error: --amount must be positive")
			return
		}

		req := api.CreditRequest{
			Type:           entryType,
			Amount:         amount,
			Reference:      reference,
			IdempotencyKey: idemKey,
		}
		if expires != "" {
			expiresAt, err := time.Parse(time.RFC3339, expires)
			if err != nil {
				cmd.Printf("Error: invalid --expires timestamp, want RFC3339: %s\n", err)
				return
			}
			req.ExpiresAt = &expiresAt
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		res, err := client.Credit(args[0], req)
		if err != nil {
			cmd.Printf("Error crediting points: %s\n", err)
			os.Exit(1)
		}

		printLedgerResult(cmd, res, "credited")
	},
}

var balanceDebitCmd = &cobra.Command{
	Use:   "debit [subject]",
	Short: "Debit points from a subject",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		amount, _ := flags.GetInt64("amount")
		reference, _ := flags.GetString("reference")
		idemKey, _ := flags.GetString("idempotency-key")

		if amount <= 0 {
			cmd.Println("Error: --amount must be positive")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		res, err := client.Debit(args[0], api.DebitRequest{
			Amount:         amount,
			Reference:      reference,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			cmd.Printf("Error debiting points: %s\n", err)
			os.Exit(1)
		}

		printLedgerResult(cmd, res, "debited")
	},
}

var balanceRedeemCmd = &cobra.Command{
	Use:   "redeem [subject]",
	Short: "Redeem a reward for a subject",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		rewardID, _ := flags.GetString("reward")
		idemKey, _ := flags.GetString("idempotency-key")

		if rewardID == "" {
			cmd.Println("Error: --reward is required")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		res, err := client.Redeem(args[0], api.RedeemRequest{
			RewardID:       rewardID,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			cmd.Printf("Error redeeming reward: %s\n", err)
			os.Exit(1)
		}

		if res.Applied && res.Reward != nil {
			cmd.Printf("✓ Redeemed %q for %d points.\n", res.Reward.Name, res.Reward.Cost)
			cmd.Printf("Remaining balance: %d\n", res.Balance)
			return
		}
		printLedgerResult(cmd, res, "redeemed")
	},
}

var balanceLedgerCmd = &cobra.Command{
	Use:   "ledger [subject]",
	Short: "Show a subject's ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		entries, err := client.GetLedger(args[0], limit, offset)
		if err != nil {
			cmd.Printf("Error fetching ledger: %s\n", err)
			os.Exit(1)
		}

		if len(entries) == 0 {
			cmd.Println("No ledger entries found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tAMOUNT\tREFERENCE\tEXPIRES\tCREATED")
		for _, e := range entries {
			expires := "-"
			if e.ExpiresAt != nil {
				expires = e.ExpiresAt.Format(time.RFC3339)
				if e.Expired {
					expires += " (expired)"
				}
			}
			reference := e.Reference
			if reference == "" {
				reference = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%+d\t%s\t%s\t%s\n",
				e.ID,
				e.Type,
				e.Amount,
				truncate(reference, 30),
				expires,
				e.CreatedAt.Format(time.RFC3339),
			)
		}
		w.Flush()
	},
}

// printLedgerResult renders the shared outcome shape of credit, debit,
// and redeem.
func printLedgerResult(cmd *cobra.Command, res *api.LedgerResultResponse, verb string) {
	if !res.Applied {
		if res.Denial != nil {
			cmd.Printf("✗ Not %s: %s (balance %d", verb, res.Denial.Reason, res.Denial.Balance)
			if res.Denial.Required > 0 {
				cmd.Printf(", required %d", res.Denial.Required)
			}
			cmd.Println(")")
		} else {
			cmd.Printf("✗ Not %s.\n", verb)
		}
		os.Exit(1)
	}

	if res.Duplicate {
		cmd.Printf("✓ Already %s (idempotency key replay). Balance: %d\n", verb, res.Balance)
		return
	}

	if res.Entry != nil {
		cmd.Printf("✓ %+d points %s. Balance: %d\n", res.Entry.Amount, verb, res.Balance)
	} else {
		cmd.Printf("✓ Points %s. Balance: %d\n", verb, res.Balance)
	}
}

func init() {
	balanceCreditCmd.Flags().Int64P("amount", "a", 0, "Points to credit (required)")
	balanceCreditCmd.Flags().String("type", "", "Entry type: earn, bonus, or adjust (default earn)")
	balanceCreditCmd.Flags().StringP("reference", "r", "", "Free-form reference recorded on the entry")
	balanceCreditCmd.Flags().String("idempotency-key", "", "Dedupe key; a replay returns the original outcome")
	balanceCreditCmd.Flags().String("expires", "", "Expiry time for the credited points, RFC3339")

	balanceDebitCmd.Flags().Int64P("amount", "a", 0, "Points to debit (required)")
	balanceDebitCmd.Flags().StringP("reference", "r", "", "Free-form reference recorded on the entry")
	balanceDebitCmd.Flags().String("idempotency-key", "", "Dedupe key; a replay returns the original outcome")

	balanceRedeemCmd.Flags().String("reward", "", "Reward ID to redeem (required)")
	balanceRedeemCmd.Flags().String("idempotency-key", "", "Dedupe key; a replay returns the original outcome")

	balanceLedgerCmd.Flags().Int("limit", 20, "Number of entries to list")
	balanceLedgerCmd.Flags().Int("offset", 0, "Offset for pagination")

	rootCmd.AddCommand(balanceCmd)
	balanceCmd.AddCommand(balanceShowCmd)
	balanceCmd.AddCommand(balanceCreditCmd)
	balanceCmd.AddCommand(balanceDebitCmd)
	balanceCmd.AddCommand(balanceRedeemCmd)
	balanceCmd.AddCommand(balanceLedgerCmd)
}
