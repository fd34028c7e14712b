package cmd

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Manage reservation slots",
	Long:  `Book, cancel, reschedule, and inspect reservation slots.`,
}

var slotBookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book a reservation slot",
	Long: `Book a slot at a location. When the requested window conflicts with an
existing booking, the conflict reason and up to three alternative start
times are printed instead.

Example:
  opsctl slot book --location "room-1" --at "2025-03-01T10:00:00Z" --duration 45 --assignee "dr-lee"`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		location, _ := flags.GetString("location")
		at, _ := flags.GetString("at")
		duration, _ := flags.GetInt("duration")
		assignee, _ := flags.GetString("assignee")
		ownerRef, _ := flags.GetString("owner")
		channel, _ := flags.GetString("channel")

		if location == "" || at == "" {
			cmd.Println("Error: --location and --at are required")
			return
		}

		startsAt, err := time.Parse(time.RFC3339, at)
		if err != nil {
			cmd.Printf("Error: invalid --at timestamp, want RFC3339: %s\n", err)
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.BookSlot(api.BookSlotRequest{
			Location:        location,
			Assignee:        assignee,
			StartsAt:        startsAt,
			DurationMinutes: duration,
			OwnerRef:        ownerRef,
			Channel:         channel,
		})
		if err != nil {
			cmd.Printf("Error booking slot: %s\n", err)
			os.Exit(1)
		}

		if !resp.Booked {
			cmd.Printf("✗ Slot not booked: %s\n", resp.Conflict.Reason)
			if len(resp.Conflict.Suggestions) > 0 {
				cmd.Println("Available alternatives:")
				for _, s := range resp.Conflict.Suggestions {
					cmd.Printf("  %s\n", s.Format(time.RFC3339))
				}
			}
			os.Exit(1)
		}

		cmd.Printf("✓ Slot booked!\n")
		cmd.Printf("Slot ID: %s\n", resp.Slot.ID)
		cmd.Printf("Window:  %s → %s\n",
			resp.Slot.StartsAt.Format(time.RFC3339),
			resp.Slot.EndsAt.Format(time.RFC3339))
	},
}

var slotCancelCmd = &cobra.Command{
	Use:   "cancel [slot_id]",
	Short: "Cancel a slot, freeing its time window",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		slot, err := client.CancelSlot(args[0], reason)
		if err != nil {
			cmd.Printf("Error cancelling slot: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Slot %s cancelled.\n", slot.ID)
	},
}

var slotRescheduleCmd = &cobra.Command{
	Use:   "reschedule [slot_id]",
	Short: "Move a slot to a new time window",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		at, _ := flags.GetString("at")
		duration, _ := flags.GetInt("duration")

		if at == "" {
			cmd.Println("Error: --at is required")
			return
		}
		startsAt, err := time.Parse(time.RFC3339, at)
		if err != nil {
			cmd.Printf("Error: invalid --at timestamp, want RFC3339: %s\n", err)
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.RescheduleSlot(args[0], api.RescheduleSlotRequest{
			StartsAt:        startsAt,
			DurationMinutes: duration,
		})
		if err != nil {
			cmd.Printf("Error rescheduling slot: %s\n", err)
			os.Exit(1)
		}

		if !resp.Booked {
			cmd.Printf("✗ Not rescheduled: %s (slot keeps its original window)\n", resp.Conflict.Reason)
			if len(resp.Conflict.Suggestions) > 0 {
				cmd.Println("Available alternatives:")
				for _, s := range resp.Conflict.Suggestions {
					cmd.Printf("  %s\n", s.Format(time.RFC3339))
				}
			}
			os.Exit(1)
		}

		cmd.Printf("✓ Slot moved to %s → %s\n",
			resp.Slot.StartsAt.Format(time.RFC3339),
			resp.Slot.EndsAt.Format(time.RFC3339))
	},
}

var slotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reservation slots",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		location, _ := flags.GetString("location")
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		query := url.Values{}
		if location != "" {
			query.Set("location", location)
		}
		if status != "" {
			query.Set("status", status)
		}
		query.Set("limit", fmt.Sprint(limit))
		query.Set("offset", fmt.Sprint(offset))

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		slots, err := client.ListSlots(query)
		if err != nil {
			cmd.Printf("Error listing slots: %s\n", err)
			os.Exit(1)
		}

		if len(slots) == 0 {
			cmd.Println("No slots found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SLOT ID\tLOCATION\tASSIGNEE\tSTARTS\tENDS\tSTATUS")
		for _, s := range slots {
			assignee := s.Assignee
			if assignee == "" {
				assignee = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID,
				s.Location,
				assignee,
				s.StartsAt.Format(time.RFC3339),
				s.EndsAt.Format(time.RFC3339),
				s.Status,
			)
		}
		w.Flush()
	},
}

func init() {
	slotBookCmd.Flags().StringP("location", "l", "", "Location or resource to book (required)")
	slotBookCmd.Flags().String("at", "", "Start time, RFC3339 (required)")
	slotBookCmd.Flags().IntP("duration", "d", 0, "Duration in minutes (default 30)")
	slotBookCmd.Flags().StringP("assignee", "a", "", "Assignee; empty books any available")
	slotBookCmd.Flags().String("owner", "", "Owner reference recorded on the slot")
	slotBookCmd.Flags().String("channel", "", "Booking channel (web, phone, api)")

	slotCancelCmd.Flags().String("reason", "", "Reason recorded with the cancellation")

	slotRescheduleCmd.Flags().String("at", "", "New start time, RFC3339 (required)")
	slotRescheduleCmd.Flags().IntP("duration", "d", 0, "New duration in minutes (default: keep)")

	slotListCmd.Flags().StringP("location", "l", "", "Filter by location")
	slotListCmd.Flags().String("status", "", "Filter by status (scheduled, confirmed, cancelled)")
	slotListCmd.Flags().Int("limit", 20, "Number of slots to list")
	slotListCmd.Flags().Int("offset", 0, "Offset for pagination")

	rootCmd.AddCommand(slotCmd)
	slotCmd.AddCommand(slotBookCmd)
	slotCmd.AddCommand(slotCancelCmd)
	slotCmd.AddCommand(slotRescheduleCmd)
	slotCmd.AddCommand(slotListCmd)
}
