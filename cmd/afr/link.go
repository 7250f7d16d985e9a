package main

import (
	"context"
	"fmt"

	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/session"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Match light sessions with calibration sessions",
	Long: `Link each light session to the best available bias, dark and flat
session.

A candidate must share telescope, instrument, binning, gain and
offset, must not postdate the lights, and must match the lights'
exposure time (darks) or filter (flats). The most recent candidate
wins. Each of the three link slots is filled independently; an
existing link is never overwritten, so re-running only fills gaps.

Sessions from equipment listed under the 'precalibrated' config key
are skipped entirely.`,
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	verbose, quiet := applyLogLevels()

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger(verbose, quiet)
	defer logger.Close()

	l := session.NewLinker(&session.LinkerConfig{
		Store:         db,
		Logger:        logger,
		Precalibrated: GetConfigStringSlice("precalibrated"),
	})

	bar, done := progress.Bar("Linking sessions")
	result, err := l.LinkSessions(ctx, bar)
	done()
	if err != nil {
		return fmt.Errorf("linking failed: %w", err)
	}

	util.SuccessLog("Linking complete")
	util.InfoLog("  Sessions examined: %d", result.SessionsExamined)
	util.InfoLog("  Links created: %d", result.LinksCreated)
	if result.Precalibrated > 0 {
		util.InfoLog("  Precalibrated (skipped): %d", result.Precalibrated)
	}
	if result.Unmatched > 0 {
		util.WarnLog("  Unmatched link slots: %d", result.Unmatched)
	}

	util.InfoLog("")
	util.InfoLog("Next step: afr masters")
	return nil
}
