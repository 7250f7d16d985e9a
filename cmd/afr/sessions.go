package main

import (
	"context"
	"fmt"
	"time"

	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/session"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Group registered files into observing sessions",
	Long: `Partition registered files into sessions.

Light frames are grouped by object, date, equipment (telescope,
instrument, binning, temperature, gain, offset), exposure and filter;
calibration frames by their own per-type keys. Only files not yet
assigned to a session are considered, so re-running after an
interruption picks up where it left off.

After grouping, per-session quality averages are computed from any
file-level metrics present.`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	verbose, quiet := applyLogLevels()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger(verbose, quiet)
	defer logger.Close()

	p := session.New(&session.Config{
		Store:  db,
		Logger: logger,
	})

	startTime := time.Now()

	util.InfoLog("=== Light sessions ===")
	bar, done := progress.Bar("Grouping lights")
	lightIDs, err := p.CreateLightSessions(ctx, bar)
	done()
	if err != nil {
		return fmt.Errorf("light session creation failed: %w", err)
	}
	util.InfoLog("  Sessions created: %d", len(lightIDs))

	util.InfoLog("=== Calibration sessions ===")
	bar, done = progress.Bar("Grouping calibration frames")
	calIDs, err := p.CreateCalibrationSessions(ctx, bar)
	done()
	if err != nil {
		return fmt.Errorf("calibration session creation failed: %w", err)
	}
	util.InfoLog("  Sessions created: %d", len(calIDs))

	util.SuccessLog("Session grouping complete in %v", time.Since(startTime).Round(time.Millisecond))
	util.InfoLog("")
	util.InfoLog("Next step: afr link")
	return nil
}
