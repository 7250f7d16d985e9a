package main

import (
	"fmt"

	"github.com/franz/astrofiler/internal/master"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check master frames against their records",
	Long: `Verify every master frame on disk.

A master is healthy when its file exists, its content hash matches
the recorded one, and its header still parses. The outcome is written
back to each record so stale masters are visible in 'afr show'.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	verbose, quiet := applyLogLevels()

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
	})

	bar, done := progress.Bar("Validating masters")
	result, err := b.ValidateMasters(bar)
	done()
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	util.SuccessLog("Validation complete")
	util.InfoLog("  Checked: %d", result.Checked)
	util.InfoLog("  Valid: %d", result.Valid)
	if result.Invalid > 0 {
		util.WarnLog("  Invalid: %d", result.Invalid)
	}
	return nil
}
