package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Opsctl is a command line tool for interacting with the opscore platform",
	Long: `opsctl is the command-line interface for the opscore business-operations
platform: reservation slots, background jobs, durable rate limits, circuit
breakers, and balance ledgers, all scoped per tenant.

Common workflows:

  Create a tenant (returns the API key once):
    opsctl tenant create --name "acme"

  Book a reservation slot:
    opsctl slot book --location "room-1" --at "2025-03-01T10:00:00Z"

  Queue a background job:
    opsctl job submit --type webhook.deliver --payload '{"url":"https://example.com/hook"}'

  Inspect and retry dead-lettered jobs:
    opsctl dlq list
    opsctl dlq retry <job-id>

  Work with balances:
    opsctl balance credit <subject> --amount 100
    opsctl balance show <subject>

  Check a circuit breaker:
    opsctl breaker status payment-gateway

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    OPSCORE_URL      API endpoint (default: http://localhost:7070)
    OPSCORE_TOKEN    Tenant API token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".opsctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".opsctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "OPSCORE_VARNAME"
	viper.SetEnvPrefix("OPSCORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.opsctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:7070", "Opscore Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API Token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
