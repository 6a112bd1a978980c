package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opsgate",
	Short: "opsgate - authenticated gateway for privileged operations",
	Long: `opsgate fronts a privileged execution environment with a security
perimeter: bearer-token sessions, per-operation rate limits, an encrypted
credential vault, and whitelist command validation.

Run "opsgate serve" to start the gateway.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
