package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "shoprelay.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "shoprelay: customer-support chat relay",
		Long:          "shoprelay batches customer messages from Messenger, Instagram and Telegram, answers them with a catalog-aware agent, and lets operators take over.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newThreadCmd())
	cmd.AddCommand(newShopCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", defaultConfigPath, "path to shoprelay config file")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
