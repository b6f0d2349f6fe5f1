// Package main provides the awmigrate CLI for migrating structured
// records from external sources into an Appwrite-style document store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "awmigrate",
	Short: "Migrate external records into a document store",
	Long: `awmigrate moves structured records from files, Postgres, or Snowflake
into a target document store, reconciling source identifiers, deduplicating
identities by email and phone, and resolving cross-collection references.

Examples:
  awmigrate run --config migration.yaml --database prod
  awmigrate run --config migration.yaml --database prod --dry-run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	// Missing .env is fine; real environments set the variables directly
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
