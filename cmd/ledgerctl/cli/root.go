package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tooling for the HourLedger service",
	Long: `ledgerctl applies schema migrations, issues and inspects case numbers,
and triggers or inspects background jobs.

Connection settings come from the same environment variables as the server
(PG_DSN, REDIS_ADDR, SEQUENCE_*).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sequenceCmd)
	rootCmd.AddCommand(jobsCmd)
}
