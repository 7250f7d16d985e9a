// Package progress defines the cancellable progress-callback contract
// shared by all long-running batch operations.
package progress

import (
	"os"
	"time"

	"github.com/franz/astrofiler/internal/util"
	"github.com/schollz/progressbar/v3"
)

// Func is invoked after each unit of work. Returning false cancels the
// operation after the current unit completes; work already committed is
// kept (no rollback).
type Func func(current, total int, message string) bool

// Nop is a callback that never cancels.
func Nop(current, total int, message string) bool { return true }

// Bar returns a callback that renders a terminal progress bar, plus a
// finish function the caller must invoke when the operation ends. When
// stdout is not a TTY (or quiet mode is on) the callback degrades to a
// no-op that never cancels.
func Bar(description string) (Func, func()) {
	if !util.IsTerminal(os.Stdout.Fd()) || util.IsQuiet() {
		return Nop, func() {}
	}

	var bar *progressbar.ProgressBar

	cb := func(current, total int, message string) bool {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("files"),
				progressbar.OptionThrottle(200*time.Millisecond),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)
		}
		if message != "" {
			bar.Describe(description + " | " + message)
		}
		bar.Set(current)
		return true
	}

	finish := func() {
		if bar != nil {
			bar.Finish()
		}
	}

	return cb, finish
}
