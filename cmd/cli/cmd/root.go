package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shipctl",
	Short: "Shipctl is a command line tool for operating the shipsanity controller",
	Long: `shipctl is the command-line interface for shipsanity, the shipping-rate
sanity checker for Shopify stores.

The controller exposes internal endpoints guarded by a shared secret. shipctl
drives them to trigger the scheduler, enqueue or run scenarios, inspect runs
and the job queue, and schedule digests.

Common workflows:

  Run the scheduler once (what the external cron calls hourly):
    shipctl cron

  Queue a scenario run, optionally in the future:
    shipctl enqueue <scenario-id> --at 2025-06-01T10:00:00Z

  Run a scenario synchronously and print the verdict:
    shipctl run <scenario-id>

  Inspect a run:
    shipctl status <run-id>

  Inspect the job queue:
    shipctl queue

Configuration:
  Set the controller endpoint and secret via environment variables or a config file:
    SHIPSANITY_URL      Controller URL (default: http://localhost:6161)
    SHIPSANITY_TOKEN    Internal secret`,
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

		// Search config in home directory with name ".shipctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".shipctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SHIPSANITY_VARNAME"
	viper.SetEnvPrefix("SHIPSANITY")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shipctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Shipsanity Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Internal secret for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

// newClientFromConfig builds a client, or prints why it cannot.
func newClientFromConfig(cmd *cobra.Command) (*Client, bool) {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("Internal secret not found. Please set it using the --token flag or the SHIPSANITY_TOKEN environment variable")
		return nil, false
	}
	return NewClient(viper.GetString("url"), token), true
}
