package main

import (
	"fmt"

	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var clearSessionsCmd = &cobra.Command{
	Use:   "clear-sessions",
	Short: "Remove all session groupings",
	Long: `Delete every session and unassign all files from them.

File records, master records and calibrated outputs are untouched;
only the grouping and its calibration links are discarded. Run
'afr sessions' afterwards to regroup from scratch. This is the
recovery path when grouping parameters were wrong.`,
	RunE: runClearSessions,
}

func init() {
	rootCmd.AddCommand(clearSessionsCmd)

	clearSessionsCmd.Flags().Bool("yes", false, "skip the confirmation check")
}

func runClearSessions(cmd *cobra.Command, args []string) error {
	applyLogLevels()
	yes, _ := cmd.Flags().GetBool("yes")

	if !yes {
		return fmt.Errorf("this discards all session groupings and links; re-run with --yes to confirm")
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.ClearSessionAssignments(); err != nil {
		return fmt.Errorf("failed to unassign files: %w", err)
	}
	if err := db.DeleteAllSessions(); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	util.SuccessLog("All sessions cleared")
	util.InfoLog("Next step: afr sessions")
	return nil
}
