package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/config"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/importer"
	"github.com/AlbertoBonfiglio/AppwriteUtils/pkg/store"
)

var (
	runConfigPath string
	runDatabaseID string
	runDryRun     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a migration against the target database",
	Long: `Run loads the migration config, processes every configured collection
with bounded concurrency, resolves cross-collection references, and drains
deferred file-attachment actions.

With --dry-run the whole pipeline executes against an in-memory store, so
transforms, dedup decisions, and reference resolution can be inspected
without touching the target.`,
	Args: cobra.NoArgs,
	RunE: runMigration,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "migration.yaml", "Path to the migration config file")
	runCmd.Flags().StringVarP(&runDatabaseID, "database", "d", "", "Target database id (defaults to the config's databaseId)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Run against an in-memory store instead of the target")
}

// resolveDatabaseID prefers the --database flag over the migration
// config's databaseId.
func resolveDatabaseID(flagValue string, mig *config.MigrationConfig) string {
	if flagValue != "" {
		return flagValue
	}
	return mig.DatabaseID
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	mig, err := config.LoadMigrationConfig(runConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load migration config: %w", err)
	}

	var client store.Client
	if runDryRun {
		logger.Info("Dry run: using in-memory store")
		client = store.NewMemoryClient()
	} else {
		if err := cfg.ValidateStore(); err != nil {
			return err
		}
		client = store.NewHTTPClient(cfg.Endpoint, cfg.Project, cfg.APIKey, cfg.RequestTimeout, logger)
	}

	runner, err := importer.NewRunner(cfg, mig, client, logger)
	if err != nil {
		return err
	}

	summary, err := runner.RunMigration(context.Background(), resolveDatabaseID(runDatabaseID, mig))
	if err != nil {
		return err
	}

	printSummary(summary)

	if summary.Failed > 0 {
		return fmt.Errorf("%d records failed; see log output for details", summary.Failed)
	}

	return nil
}

func printSummary(summary *importer.RunSummary) {
	fmt.Printf("\nMigration of database %q finished in %s\n", summary.DatabaseID, summary.Duration.Round(time.Millisecond))
	fmt.Printf("  created: %d  updated: %d  merged: %d  skipped: %d  failed: %d\n",
		summary.Created, summary.Updated, summary.Merged, summary.Skipped, summary.Failed)
	fmt.Printf("  references: %d resolved, %d rewritten after identity merges, %d unresolved\n",
		summary.ResolvedRefs, summary.RewrittenRefs, summary.UnresolvedRefs)
	fmt.Printf("  deferred actions: %d drained, %d still pending\n",
		summary.DrainedActions, summary.PendingActions)

	for _, coll := range summary.Collections {
		fmt.Printf("  [%s] %s: %d processed in %s\n",
			coll.State, coll.Collection, coll.Processed(), coll.Duration.Round(time.Millisecond))
	}

	failures := summary.AllFailures()
	if len(failures) > 0 {
		fmt.Println("\nFailures:")
		for _, f := range failures {
			fmt.Println("  " + f.String())
		}
	}
}
