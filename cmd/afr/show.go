package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/franz/astrofiler/internal/session"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the repository contents",
	Long: `Display a summary of the repository.

Shows file counts per frame type, light sessions with their
calibration links, calibration sessions, and master frames with
their last validation result.`,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().Bool("sessions", false, "show only sessions")
	showCmd.Flags().Bool("masters", false, "show only masters")
}

func runShow(cmd *cobra.Command, args []string) error {
	applyLogLevels()
	sessionsOnly, _ := cmd.Flags().GetBool("sessions")
	mastersOnly, _ := cmd.Flags().GetBool("masters")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if !sessionsOnly && !mastersOnly {
		if err := showFiles(db); err != nil {
			return err
		}
	}
	if !mastersOnly {
		if err := showSessions(db); err != nil {
			return err
		}
	}
	if !sessionsOnly {
		if err := showMasters(db); err != nil {
			return err
		}
	}
	return nil
}

func showFiles(db *store.Store) error {
	counts, err := db.FileCountsByType()
	if err != nil {
		return fmt.Errorf("failed to count files: %w", err)
	}
	totalBytes, err := db.TotalFileBytes()
	if err != nil {
		return fmt.Errorf("failed to sum file sizes: %w", err)
	}

	util.InfoLog("=== Repository ===")
	util.InfoLog("Database: %s", viper.GetString("db"))

	types := make([]string, 0, len(counts))
	total := 0
	for t, n := range counts {
		types = append(types, t)
		total += n
	}
	sort.Strings(types)

	util.InfoLog("Files: %d (%s)", total, humanize.Bytes(uint64(totalBytes)))
	for _, t := range types {
		util.InfoLog("  %-5s %d", t, counts[t])
	}
	util.InfoLog("")
	return nil
}

func showSessions(db *store.Store) error {
	lights, err := db.LightSessions()
	if err != nil {
		return fmt.Errorf("failed to get light sessions: %w", err)
	}
	cals, err := db.CalibrationSessions()
	if err != nil {
		return fmt.Errorf("failed to get calibration sessions: %w", err)
	}

	util.InfoLog("=== Light sessions: %d ===", len(lights))
	for _, sess := range lights {
		n, _ := db.SessionFileCount(sess.ID)

		filter := ""
		if sess.Filter != nil {
			filter = " " + *sess.Filter
		}
		fmt.Printf("  %s  %s%s  %s/%s  %gs  %d files\n",
			sess.Date, sess.Object, filter, sess.Telescope, sess.Instrument,
			sess.Exposure, n)

		links := describeLinks(db, sess)
		if links != "" {
			fmt.Printf("      calibration: %s\n", links)
		}
		if sess.FWHMAvg != nil {
			fmt.Printf("      quality: FWHM %.2f\n", *sess.FWHMAvg)
		}
	}

	util.InfoLog("")
	util.InfoLog("=== Calibration sessions: %d ===", len(cals))
	for _, sess := range cals {
		n, _ := db.SessionFileCount(sess.ID)

		detail := fmt.Sprintf("%gs", sess.Exposure)
		if sess.Object == store.SessionFlat && sess.Filter != nil {
			detail = *sess.Filter
		}
		fmt.Printf("  %s  %-4s  %s/%s  %s  %d files\n",
			sess.Date, sess.Object, sess.Telescope, sess.Instrument, detail, n)
	}
	util.InfoLog("")
	return nil
}

// describeLinks renders a light session's calibration links, noting
// calibration data captured on the same night as the lights.
func describeLinks(db *store.Store, sess *store.Session) string {
	var parts []string
	links := []struct {
		name string
		ref  *string
	}{
		{"bias", sess.BiasSession},
		{"dark", sess.DarkSession},
		{"flat", sess.FlatSession},
	}
	for _, l := range links {
		if l.ref == nil {
			parts = append(parts, l.name+": -")
			continue
		}
		target, err := db.GetSessionByID(*l.ref)
		if err != nil || target == nil {
			parts = append(parts, l.name+": ?")
			continue
		}
		desc := l.name + ": " + target.Date
		if session.SameObservingNight(sess.Date, target.Date) {
			desc += " (same night)"
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, ", ")
}

func showMasters(db *store.Store) error {
	masters, err := db.AllMasters()
	if err != nil {
		return fmt.Errorf("failed to get masters: %w", err)
	}

	util.InfoLog("=== Masters: %d ===", len(masters))
	for _, m := range masters {
		status := "unvalidated"
		if m.ValidatedAt != nil {
			status = "valid"
			if !m.Valid {
				status = "INVALID"
			}
		}
		fmt.Printf("  %-4s  %s  %d frames  %s\n",
			m.CalType, filepath.Base(m.Path), m.SourceCount, status)
	}
	return nil
}
