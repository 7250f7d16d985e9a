// Package session groups file records into observing sessions and
// links light sessions to compatible calibration sessions.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

// Partitioner converts unassigned file records into sessions
type Partitioner struct {
	store  *store.Store
	logger *report.EventLogger
}

// Config holds partitioner configuration
type Config struct {
	Store  *store.Store
	Logger *report.EventLogger
}

// New creates a new Partitioner
func New(cfg *Config) *Partitioner {
	return &Partitioner{
		store:  cfg.Store,
		logger: cfg.Logger,
	}
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// sameLightSession reports whether a file belongs to the session
// anchored by first. Membership is transitively defined by every
// field being identical to the session's first member; the sort order
// (object, date, filter) guarantees transitions surface in one linear
// pass.
func sameLightSession(first, f *store.File) bool {
	return f.Object == first.Object &&
		f.Date == first.Date &&
		eqStrPtr(f.Filter, first.Filter) &&
		f.Telescope == first.Telescope &&
		f.Instrument == first.Instrument &&
		f.Exposure == first.Exposure &&
		f.BinX == first.BinX &&
		f.BinY == first.BinY &&
		eqFloatPtr(f.Gain, first.Gain) &&
		eqFloatPtr(f.Offset, first.Offset)
}

// sameCalibrationSession applies the per-type grouping key
func sameCalibrationSession(frameType string, first, f *store.File) bool {
	if f.Telescope != first.Telescope ||
		f.Instrument != first.Instrument ||
		f.Date != first.Date ||
		f.BinX != first.BinX ||
		f.BinY != first.BinY {
		return false
	}
	switch frameType {
	case store.FrameDark:
		return f.Exposure == first.Exposure
	case store.FrameFlat:
		return eqStrPtr(f.Filter, first.Filter)
	}
	return true
}

// sessionFromFile seeds a session row from a group's first member.
// Temperature, gain, offset, filter and exposure are copied verbatim;
// internal consistency beyond the grouping key is not enforced.
func sessionFromFile(object string, f *store.File) *store.Session {
	return &store.Session{
		ID:         uuid.NewString(),
		Object:     object,
		Date:       f.Date,
		Telescope:  f.Telescope,
		Instrument: f.Instrument,
		Exposure:   f.Exposure,
		BinX:       f.BinX,
		BinY:       f.BinY,
		CCDTemp:    f.CCDTemp,
		Gain:       f.Gain,
		Offset:     f.Offset,
		Filter:     f.Filter,
	}
}

// CreateLightSessions groups unassigned light frames into sessions and
// returns the new session IDs. Idempotent: only files without a
// session are selected, so a cancelled pass resumes cleanly. After the
// pass each new session's aggregate quality means are recomputed.
func (p *Partitioner) CreateLightSessions(ctx context.Context, cb progress.Func) ([]string, error) {
	files, err := p.store.UnassignedLightFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load unassigned lights: %w", err)
	}
	if len(files) == 0 {
		util.InfoLog("No unassigned light frames")
		return nil, nil
	}
	if cb == nil {
		cb = progress.Nop
	}

	util.InfoLog("Partitioning %d light frames into sessions", len(files))

	var created []string
	var cur *store.Session
	var first *store.File
	memberCount := 0

	closeSession := func() {
		if cur != nil {
			p.logger.LogSession(cur.ID, cur.Object, cur.Date, memberCount)
		}
	}

	for i, f := range files {
		select {
		case <-ctx.Done():
			closeSession()
			return created, ctx.Err()
		default:
		}

		if first == nil || !sameLightSession(first, f) {
			closeSession()
			cur = sessionFromFile(f.Object, f)
			if err := p.store.InsertSession(cur); err != nil {
				return created, fmt.Errorf("failed to create session: %w", err)
			}
			created = append(created, cur.ID)
			first = f
			memberCount = 0
		}

		// Fail-fast per file: a persistence error skips this file and
		// the pass continues
		if err := p.store.SetFileSession(f.ID, cur.ID); err != nil {
			util.ErrorLog("Failed to assign %s: %v", f.Path, err)
			p.logger.LogError(f.ID, f.Path, err)
		} else {
			memberCount++
		}

		if !cb(i+1, len(files), f.Object) {
			closeSession()
			util.InfoLog("Session creation cancelled after %d/%d files", i+1, len(files))
			return created, nil
		}
	}
	closeSession()

	for _, id := range created {
		if err := p.store.UpdateSessionQuality(id); err != nil {
			util.WarnLog("Failed to aggregate quality for session %s: %v", id, err)
		}
	}

	util.SuccessLog("Created %d light sessions", len(created))
	return created, nil
}

// CreateCalibrationSessions groups unassigned bias, dark and flat
// frames into calibration sessions, one type at a time. Returns the
// new session IDs.
func (p *Partitioner) CreateCalibrationSessions(ctx context.Context, cb progress.Func) ([]string, error) {
	if cb == nil {
		cb = progress.Nop
	}

	frameTypes := []string{store.FrameBias, store.FrameDark, store.FrameFlat}

	byType := make(map[string][]*store.File, len(frameTypes))
	total := 0
	for _, ft := range frameTypes {
		files, err := p.store.UnassignedCalibrationFiles(ft)
		if err != nil {
			return nil, fmt.Errorf("failed to load unassigned %s frames: %w", ft, err)
		}
		byType[ft] = files
		total += len(files)
	}
	if total == 0 {
		util.InfoLog("No unassigned calibration frames")
		return nil, nil
	}

	util.InfoLog("Partitioning %d calibration frames into sessions", total)

	var created []string
	done := 0

	for _, ft := range frameTypes {
		object := store.SessionObjectForFrame(ft)
		var cur *store.Session
		var first *store.File
		memberCount := 0

		closeSession := func() {
			if cur != nil {
				p.logger.LogSession(cur.ID, cur.Object, cur.Date, memberCount)
			}
		}

		for _, f := range byType[ft] {
			select {
			case <-ctx.Done():
				closeSession()
				return created, ctx.Err()
			default:
			}

			if first == nil || !sameCalibrationSession(ft, first, f) {
				closeSession()
				cur = sessionFromFile(object, f)
				if err := p.store.InsertSession(cur); err != nil {
					return created, fmt.Errorf("failed to create %s session: %w", object, err)
				}
				created = append(created, cur.ID)
				first = f
				memberCount = 0
			}

			if err := p.store.SetFileSession(f.ID, cur.ID); err != nil {
				util.ErrorLog("Failed to assign %s: %v", f.Path, err)
				p.logger.LogError(f.ID, f.Path, err)
			} else {
				memberCount++
			}

			done++
			if !cb(done, total, object) {
				closeSession()
				util.InfoLog("Session creation cancelled after %d/%d files", done, total)
				return created, nil
			}
		}
		closeSession()
	}

	util.SuccessLog("Created %d calibration sessions", len(created))
	return created, nil
}
