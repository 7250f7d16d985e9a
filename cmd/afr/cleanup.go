package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/franz/astrofiler/internal/master"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old unreferenced master frames",
	Long: `Delete master frames older than the retention period.

Only masters whose source session is not linked from any light
session are candidates; a master still backing a session link is
kept regardless of age. Both the file and its record are removed.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().Int("retention-days", 180, "keep unreferenced masters younger than this")
	cleanupCmd.Flags().Bool("dry-run", false, "report what would be removed without deleting")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	verbose, quiet := applyLogLevels()
	retentionDays, _ := cmd.Flags().GetInt("retention-days")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger(verbose, quiet)
	defer logger.Close()

	b := master.NewBuilder(master.Config{
		Store:  db,
		Logger: logger,
		DryRun: dryRun,
	})

	result, err := b.CleanupMasters(retentionDays)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	util.SuccessLog("Cleanup complete")
	util.InfoLog("  %s: %d masters (%s)", verb, result.Removed,
		humanize.Bytes(uint64(result.BytesReclaimed)))
	if len(result.Errors) > 0 {
		util.WarnLog("  Errors: %d", len(result.Errors))
	}
	return nil
}
