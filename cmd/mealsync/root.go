package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mealsync",
	Short: "Local-first meal plan sync engine",
	Long: `mealsync keeps a weekly meal plan and shopping list usable offline and
convergent with the server copy once connectivity and authentication are
available.

Local state is the source of truth: edits apply immediately, are persisted
locally, and are pushed to the server in the background. Mutations made
while offline queue as sync intents and drain in order on reconnect.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: env + built-in defaults)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
}
