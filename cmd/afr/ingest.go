package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/franz/astrofiler/internal/ingest"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <directory>",
	Short: "Register FITS files from a directory",
	Long: `Walk a directory tree and register every FITS file found.

Each file's header is read and its acquisition metadata (frame type,
object, date, exposure, binning, temperature, gain, offset, filter,
telescope, instrument) is stored along with a content hash. A file
whose content hash is already registered is reported as a duplicate
and not inserted again.

With --watch the command keeps running and registers new files as
they appear, after a short settle delay so half-written files are
not picked up.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("watch", false, "keep watching the directory for new files")
	ingestCmd.Flags().Bool("dry-run", false, "report what would be registered without writing")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	dir := args[0]

	verbose, quiet := applyLogLevels()
	watch, _ := cmd.Flags().GetBool("watch")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	logger := newEventLogger(verbose, quiet)
	defer logger.Close()

	in := ingest.New(&ingest.Config{
		Store:  db,
		Logger: logger,
		DryRun: dryRun,
	})

	util.InfoLog("Ingesting from: %s", dir)

	bar, done := progress.Bar("Registering files")
	startTime := time.Now()
	result, err := in.IngestDir(ctx, dir, bar)
	done()
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	util.SuccessLog("Ingest complete in %v", time.Since(startTime).Round(time.Millisecond))
	util.InfoLog("  Registered: %d", result.Registered)
	if result.Duplicates > 0 {
		util.InfoLog("  Duplicates: %d", result.Duplicates)
	}
	if result.Invalid > 0 {
		util.WarnLog("  Invalid headers: %d", result.Invalid)
	}
	if len(result.Errors) > 0 {
		util.WarnLog("  Errors: %d", len(result.Errors))
	}

	if watch {
		util.InfoLog("Watching %s for new files (Ctrl-C to stop)", dir)
		if err := in.Watch(ctx, dir); err != nil {
			return fmt.Errorf("watch failed: %w", err)
		}
		return nil
	}

	util.InfoLog("")
	util.InfoLog("Next step: afr sessions")
	return nil
}
