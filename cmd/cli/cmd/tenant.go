package cmd

import (
	"os"

	"opscore/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant and print its API key",
	Long: `Create a new tenant. The response contains the tenant's API key, which is
shown exactly once; only a hash is stored server-side.

Example:
  opsctl tenant create --name "acme" --rate-limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		rateLimit, _ := flags.GetInt("rate-limit")
		burst, _ := flags.GetInt("burst")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.CreateTenant(api.CreateTenantRequest{
			Name:      name,
			RateLimit: rateLimit,
			Burst:     burst,
		})
		if err != nil {
			cmd.Printf("Error creating tenant: %s\n", err)
			os.Exit(1)
		}

		cmd.Printf("✓ Tenant created!\n")
		cmd.Printf("Tenant ID: %s\n", resp.ID)
		cmd.Printf("API Key:   %s\n", resp.ApiKey)
		cmd.Println("\nStore the API key now; it cannot be retrieved again.")
	},
}

func init() {
	tenantCreateCmd.Flags().StringP("name", "n", "", "Name of the tenant (required)")
	tenantCreateCmd.Flags().Int("rate-limit", 0, "API requests per second, 0 = unlimited")
	tenantCreateCmd.Flags().Int("burst", 0, "API request burst size")

	rootCmd.AddCommand(tenantCmd)
	tenantCmd.AddCommand(tenantCreateCmd)
}
