package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hawkerops/menu-sync/internal/database"
)

var (
	cleanupSnapshotDays int
	cleanupChangeDays   int
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old snapshot and change rows",
	Long: `Delete snapshot rows older than the retention window, always keeping the
newest row per (shop, item) so diffing keeps working, and delete change rows
past their own longer retention window.`,
	Example: `  menu-sync cleanup
  menu-sync cleanup --snapshot-days 30 --change-days 180`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupSnapshotDays, "snapshot-days", 30, "Snapshot retention in days")
	cleanupCmd.Flags().IntVar(&cleanupChangeDays, "change-days", 180, "Change record retention in days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupSnapshotDays < 1 || cleanupChangeDays < 1 {
		return fmt.Errorf("retention windows must be at least 1 day")
	}

	ctx := context.Background()

	snapshots, err := database.CleanupOldSnapshots(ctx, cleanupSnapshotDays)
	if err != nil {
		return err
	}

	changes, err := database.CleanupOldChanges(ctx, cleanupChangeDays)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("snapshots_deleted", snapshots).
		Int64("changes_deleted", changes).
		Msg("Cleanup complete")
	return nil
}
