package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatdb",
	Short: "Database bootstrap for the diagnosis chatbot",
	Long: `chatdb creates and drops the chat database and its tables, and issues
bearer tokens for local testing. Connection settings come from the same
environment variables as the server (MYSQL_*, DB_DRIVER).

Examples:
  chatdb create-db
  chatdb create-table
  chatdb drop-table --yes
  chatdb token u1 --ttl 24h`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(createDBCmd)
	rootCmd.AddCommand(dropDBCmd)
	rootCmd.AddCommand(createTableCmd)
	rootCmd.AddCommand(dropTableCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.PersistentFlags().String("database", "", "Database name (default MYSQL_DATABASE)")
}
