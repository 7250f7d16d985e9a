package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

// Linker populates calibration cross-references on light sessions
type Linker struct {
	store  *store.Store
	logger *report.EventLogger

	// Telescope/instrument names that deliver already-corrected
	// frames; their sessions are exempt from linking
	precalibrated []string
}

// LinkerConfig holds linker configuration
type LinkerConfig struct {
	Store         *store.Store
	Logger        *report.EventLogger
	Precalibrated []string
}

// NewLinker creates a new Linker
func NewLinker(cfg *LinkerConfig) *Linker {
	return &Linker{
		store:         cfg.Store,
		logger:        cfg.Logger,
		precalibrated: cfg.Precalibrated,
	}
}

// LinkResult represents linker results
type LinkResult struct {
	SessionsExamined int
	LinksCreated     int
	Precalibrated    int
	Unmatched        int
}

func (l *Linker) isPrecalibrated(sess *store.Session) bool {
	for _, name := range l.precalibrated {
		name = strings.ToLower(name)
		if name == "" {
			continue
		}
		if strings.Contains(strings.ToLower(sess.Telescope), name) ||
			strings.Contains(strings.ToLower(sess.Instrument), name) {
			return true
		}
	}
	return false
}

// LinkSessions finds, for every light session missing a bias, dark or
// flat reference, the most recent compatible calibration session and
// records it. Each of the three types is matched independently, so a
// session can gain a bias link now and a dark link on a later run.
// Existing references are never overwritten. A session with no match
// for some type is left unlinked without error.
func (l *Linker) LinkSessions(ctx context.Context, cb progress.Func) (*LinkResult, error) {
	sessions, err := l.store.LightSessionsNeedingLinks()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions needing links: %w", err)
	}
	if cb == nil {
		cb = progress.Nop
	}

	result := &LinkResult{}

	for i, sess := range sessions {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
		result.SessionsExamined++

		if l.isPrecalibrated(sess) {
			util.InfoLog("Session %s (%s): precalibrated equipment, skipping", sess.ID, sess.Object)
			l.logger.LogSkip("", "", fmt.Sprintf("session %s uses precalibrated equipment", sess.ID))
			result.Precalibrated++
			continue
		}

		missing := []struct {
			object string
			ref    *string
		}{
			{store.SessionBias, sess.BiasSession},
			{store.SessionDark, sess.DarkSession},
			{store.SessionFlat, sess.FlatSession},
		}

		for _, m := range missing {
			if m.ref != nil {
				continue
			}

			candidate, err := l.store.FindCalibrationCandidate(sess, m.object)
			if err != nil {
				return result, err
			}
			if candidate == nil {
				util.DebugLog("Session %s: no %s candidate", sess.ID, m.object)
				result.Unmatched++
				continue
			}

			set, err := l.store.SetSessionLink(sess.ID, m.object, candidate.ID)
			if err != nil {
				return result, err
			}
			if set {
				util.InfoLog("Session %s (%s %s): linked %s session %s (%s)",
					sess.ID, sess.Object, sess.Date, m.object, candidate.ID, candidate.Date)
				l.logger.LogLink(sess.ID, m.object, candidate.ID)
				result.LinksCreated++
			}
		}

		if !cb(i+1, len(sessions), sess.Object) {
			util.InfoLog("Linking cancelled after %d/%d sessions", i+1, len(sessions))
			return result, nil
		}
	}

	return result, nil
}
