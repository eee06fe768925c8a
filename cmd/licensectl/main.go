package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "licensectl",
		Short: "License activation and update client for self-hosted plugins and themes",
		Long: `licensectl activates, checks and deactivates product licenses against a
license server, checks for updates and serves the JSON admin endpoint.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml, .json or .jsonc)")

	root.AddCommand(
		newLicenseCmd("activate", "Activate a product license", false),
		newLicenseCmd("deactivate", "Deactivate a product license", true),
		newCheckCmd(),
		newUpdatesCmd(),
		newProductsCmd(),
		newInfoCmd(),
		newNoticesCmd(),
		newConnectCmd(),
		newDisconnectCmd(),
		newServeCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "licensectl %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
