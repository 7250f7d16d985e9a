package main

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/astrofiler/internal/calibrate"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate [session-id]",
	Short: "Apply master frames to light frames",
	Long: `Calibrate light frames using their sessions' linked masters.

For each light the dark master (itself bias-corrected when possible)
is subtracted, or the bias alone when no dark is linked, and the
frame is divided by the median-normalized flat. Results are written
next to the source with a _cal suffix and the file is marked
calibrated.

Without a session argument, every linked light session is processed.
Already-calibrated files are skipped unless --force is given. One
file's failure never aborts the batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)

	calibrateCmd.Flags().Bool("force", false, "recalibrate files already marked calibrated")
	calibrateCmd.Flags().Bool("dry-run", false, "report what would be calibrated without writing")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	verbose, quiet := applyLogLevels()
	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger(verbose, quiet)
	defer logger.Close()

	c := calibrate.New(calibrate.Config{
		Store:         db,
		Logger:        logger,
		Version:       Version,
		Force:         force,
		DryRun:        dryRun,
		Precalibrated: GetConfigStringSlice("precalibrated"),
	})

	bar, done := progress.Bar("Calibrating lights")
	startTime := time.Now()

	var result *calibrate.Result
	if len(args) == 1 {
		result, err = c.CalibrateSession(ctx, args[0], bar)
	} else {
		result, err = c.CalibrateAll(ctx, bar)
	}
	done()
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	util.SuccessLog("Calibration complete in %v", time.Since(startTime).Round(time.Millisecond))
	util.InfoLog("  Processed: %d", result.Processed)
	if result.Skipped > 0 {
		util.InfoLog("  Skipped (already calibrated): %d", result.Skipped)
	}
	if result.Errored > 0 {
		util.WarnLog("  Errors: %d", result.Errored)
	}
	return nil
}
