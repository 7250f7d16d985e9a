// Package calibrate applies bias, dark and flat correction to light
// frames and records the results.
package calibrate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/stats"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

const (
	// Floor applied to the median-normalized flat before division
	flatNormFloor = 0.1

	// Safety margin added on top of |min| when shifting negative
	// output positive
	positivityMargin = 100.0
)

// Calibrator applies master frames to light frames
type Calibrator struct {
	store  *store.Store
	logger *report.EventLogger
	cfg    Config
}

// Config holds calibrator configuration
type Config struct {
	Store         *store.Store
	Logger        *report.EventLogger
	Version       string
	Force         bool // recalibrate files already marked calibrated
	DryRun        bool
	Precalibrated []string // telescope/instrument substrings to skip
}

// New creates a new Calibrator
func New(cfg Config) *Calibrator {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Calibrator{
		store:  cfg.Store,
		logger: cfg.Logger,
		cfg:    cfg,
	}
}

// Result represents session calibration results
type Result struct {
	Processed int
	Skipped   int
	Errored   int
}

// Masters is the resolved master set for one light session. Any
// member may be nil; the corresponding correction step is skipped.
type Masters struct {
	Bias *store.Master
	Dark *store.Master
	Flat *store.Master
}

// Empty reports whether no correction can be applied at all
func (m *Masters) Empty() bool {
	return m.Bias == nil && m.Dark == nil && m.Flat == nil
}

// precalibrated reports whether the session's equipment matches a
// configured precalibrated entry.
func (c *Calibrator) precalibrated(sess *store.Session) bool {
	for _, p := range c.cfg.Precalibrated {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.Contains(strings.ToLower(sess.Telescope), p) ||
			strings.Contains(strings.ToLower(sess.Instrument), p) {
			return true
		}
	}
	return false
}

// MastersForSession resolves the session's calibration links to
// master records. A link whose session has no master yet resolves to
// nil with a warning; calibration proceeds with whatever is present.
func (c *Calibrator) MastersForSession(sess *store.Session) (*Masters, error) {
	m := &Masters{}
	links := []struct {
		name   string
		ref    *string
		target **store.Master
	}{
		{"bias", sess.BiasSession, &m.Bias},
		{"dark", sess.DarkSession, &m.Dark},
		{"flat", sess.FlatSession, &m.Flat},
	}
	for _, l := range links {
		if l.ref == nil {
			continue
		}
		master, err := c.store.MasterForSession(*l.ref)
		if err != nil {
			return nil, err
		}
		if master == nil {
			util.WarnLog("Session %s: linked %s session %s has no master yet",
				sess.ID, l.name, *l.ref)
			continue
		}
		if !util.FileExists(master.Path) {
			util.WarnLog("Session %s: %s master file missing: %s",
				sess.ID, l.name, master.Path)
			continue
		}
		*l.target = master
	}
	return m, nil
}

// outputPath returns the calibrated file's destination. The output
// lives next to the source with a _cal suffix; its existence doubles
// as the cheap redo check.
func outputPath(srcPath string) string {
	ext := filepath.Ext(srcPath)
	return strings.TrimSuffix(srcPath, ext) + "_cal" + ext
}

// applyResult is the numeric outcome of the correction pipeline
type applyResult struct {
	Data    []float64 // shifted values as stored
	Offset  float64   // positivity shift, 0 when none was needed
	History []string
}

// apply runs the correction steps in fixed order. Dark subtraction is
// preferred and the dark is itself bias-corrected first when a
// shape-compatible bias is present; bias-only subtraction happens only
// without a dark. The flat is normalized by its full-frame median with
// a floor of 0.1 per pixel. All arithmetic is float64.
//
// Darks are not exposure-scaled: master matching is done on exact
// exposure time instead, so a matched dark never needs scaling.
func apply(light *fits.Image, m *Masters, bias, dark, flat *fits.Image) (*applyResult, error) {
	data := make([]float64, len(light.Data))
	copy(data, light.Data)
	var history []string

	switch {
	case dark != nil:
		darkData := dark.Data
		if bias != nil {
			if len(bias.Data) == len(dark.Data) {
				darkData = make([]float64, len(dark.Data))
				for i := range darkData {
					darkData[i] = dark.Data[i] - bias.Data[i]
				}
				history = append(history,
					fmt.Sprintf("Dark master bias-corrected with %s", filepath.Base(m.Bias.Path)))
			} else {
				util.WarnLog("Bias master shape differs from dark master, using raw dark (reduced accuracy)")
				history = append(history, "Dark master used uncorrected (bias shape mismatch)")
			}
		}
		if len(darkData) != len(data) {
			return nil, fmt.Errorf("dark master is %dx%d, light is %dx%d",
				dark.Width, dark.Height, light.Width, light.Height)
		}
		for i := range data {
			data[i] -= darkData[i]
		}
		history = append(history,
			fmt.Sprintf("Dark subtracted: %s", filepath.Base(m.Dark.Path)))

	case bias != nil:
		if len(bias.Data) != len(data) {
			return nil, fmt.Errorf("bias master is %dx%d, light is %dx%d",
				bias.Width, bias.Height, light.Width, light.Height)
		}
		for i := range data {
			data[i] -= bias.Data[i]
		}
		history = append(history,
			fmt.Sprintf("Bias subtracted: %s", filepath.Base(m.Bias.Path)))
	}

	if flat != nil {
		if len(flat.Data) != len(data) {
			return nil, fmt.Errorf("flat master is %dx%d, light is %dx%d",
				flat.Width, flat.Height, light.Width, light.Height)
		}
		med := stats.Median(flat.Data)
		if med == 0 {
			return nil, fmt.Errorf("flat master %s has zero median", m.Flat.Path)
		}
		for i := range data {
			n := flat.Data[i] / med
			if n < flatNormFloor {
				n = flatNormFloor
			}
			data[i] /= n
		}
		history = append(history,
			fmt.Sprintf("Flat applied (median-normalized): %s", filepath.Base(m.Flat.Path)))
	}

	offset := 0.0
	if min := stats.Min(data); min < 0 {
		offset = -min + positivityMargin
		for i := range data {
			data[i] += offset
		}
		history = append(history,
			fmt.Sprintf("Shifted positive by %g (min was %g)", offset, -(offset-positivityMargin)))
	}

	return &applyResult{Data: data, Offset: offset, History: history}, nil
}

// CalibrateFile corrects a single light file and writes the result.
// Returns the output path.
func (c *Calibrator) CalibrateFile(f *store.File, m *Masters) (string, error) {
	light, err := fits.Open(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read light frame: %w", err)
	}

	var bias, dark, flat *fits.Image
	if m.Bias != nil {
		if bias, err = fits.Open(m.Bias.Path); err != nil {
			return "", fmt.Errorf("failed to read bias master: %w", err)
		}
	}
	if m.Dark != nil {
		if dark, err = fits.Open(m.Dark.Path); err != nil {
			return "", fmt.Errorf("failed to read dark master: %w", err)
		}
	}
	if m.Flat != nil {
		if flat, err = fits.Open(m.Flat.Path); err != nil {
			return "", fmt.Errorf("failed to read flat master: %w", err)
		}
	}

	result, err := apply(light, m, bias, dark, flat)
	if err != nil {
		return "", err
	}

	out := &fits.Image{
		Header: light.Header,
		Bitpix: -32,
		Width:  light.Width,
		Height: light.Height,
		Data:   result.Data,
	}
	c.writeProvenance(out.Header, m, result)

	outPath := outputPath(f.Path)
	if err := fits.Write(outPath, out); err != nil {
		return "", err
	}

	if err := c.store.MarkCalibrated(f.ID, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func (c *Calibrator) writeProvenance(hdr *fits.Header, m *Masters, result *applyResult) {
	// The acquisition software's checksums no longer match the
	// calibrated pixels
	hdr.Remove("CHECKSUM")
	hdr.Remove("DATASUM")

	hdr.SetBool("CALIBRAT", true, "bias/dark/flat correction applied")
	hdr.SetString("CREATOR", "astrofiler "+c.cfg.Version, "")

	masterCards := []struct {
		master  *store.Master
		nameKey string
		hashKey string
	}{
		{m.Bias, "BIASMAST", "BIASHASH"},
		{m.Dark, "DARKMAST", "DARKHASH"},
		{m.Flat, "FLATMAST", "FLATHASH"},
	}
	for _, mc := range masterCards {
		if mc.master == nil {
			continue
		}
		hdr.SetString(mc.nameKey, filepath.Base(mc.master.Path), mc.master.Path)
		if short, err := util.ShortHash(mc.master.Path); err == nil {
			hdr.SetString(mc.hashKey, short, "")
		}
	}

	hdr.SetFloat("BSCALE", 1.0, "")
	if result.Offset > 0 {
		hdr.SetFloat("BZERO", result.Offset, "positivity shift")
	} else {
		hdr.SetFloat("BZERO", 0.0, "")
	}

	hdr.SetFloat("CALMIN", stats.Min(result.Data), "output minimum")
	hdr.SetFloat("CALMAX", stats.Max(result.Data), "output maximum")
	hdr.SetFloat("CALMEAN", stats.Mean(result.Data), "output mean")
	hdr.SetFloat("CALMED", stats.Median(result.Data), "output median")
	hdr.SetFloat("CALSTD", stats.Std(result.Data), "output standard deviation")
	hdr.SetFloat("CALP01", stats.Percentile(result.Data, 1), "output 1st percentile")
	hdr.SetFloat("CALP99", stats.Percentile(result.Data, 99), "output 99th percentile")

	for _, line := range result.History {
		hdr.AddHistory(line)
	}
}

// CalibrateSession corrects every light file in a session. One file's
// failure is counted and the batch continues.
func (c *Calibrator) CalibrateSession(ctx context.Context, sessionID string, cb progress.Func) (*Result, error) {
	if cb == nil {
		cb = progress.Nop
	}

	sess, err := c.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("no such session: %s", sessionID)
	}
	if sess.IsCalibration() {
		return nil, fmt.Errorf("session %s is a calibration session", sessionID)
	}

	result := &Result{}

	if c.precalibrated(sess) {
		util.InfoLog("Session %s uses precalibrated equipment (%s/%s), skipping",
			sess.ID, sess.Telescope, sess.Instrument)
		return result, nil
	}

	masters, err := c.MastersForSession(sess)
	if err != nil {
		return nil, err
	}
	if masters.Empty() {
		util.WarnLog("Session %s has no usable masters, nothing to apply", sess.ID)
		return result, nil
	}

	files, err := c.store.FilesBySession(sessionID, store.FrameLight)
	if err != nil {
		return nil, err
	}

	for i, f := range files {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if f.Calibrated && !c.cfg.Force {
			result.Skipped++
			c.logger.LogSkip(f.ID, f.Path, "already calibrated")
			if !cb(i+1, len(files), filepath.Base(f.Path)) {
				return result, nil
			}
			continue
		}

		if c.cfg.DryRun {
			util.InfoLog("Dry run: would calibrate %s", f.Path)
			result.Processed++
			if !cb(i+1, len(files), filepath.Base(f.Path)) {
				return result, nil
			}
			continue
		}

		outPath, err := c.CalibrateFile(f, masters)
		if err != nil {
			result.Errored++
			util.ErrorLog("Failed to calibrate %s: %v", f.Path, err)
			c.logger.LogCalibrate(f.ID, f.Path, "", err)
		} else {
			result.Processed++
			c.logger.LogCalibrate(f.ID, f.Path, outPath, nil)
		}

		if !cb(i+1, len(files), filepath.Base(f.Path)) {
			util.InfoLog("Calibration cancelled after %d/%d files", i+1, len(files))
			return result, nil
		}
	}

	return result, nil
}

// CalibrateAll runs CalibrateSession over every light session that
// carries at least one calibration link.
func (c *Calibrator) CalibrateAll(ctx context.Context, cb progress.Func) (*Result, error) {
	sessions, err := c.store.LightSessions()
	if err != nil {
		return nil, err
	}

	total := &Result{}
	for _, sess := range sessions {
		if sess.BiasSession == nil && sess.DarkSession == nil && sess.FlatSession == nil {
			continue
		}
		r, err := c.CalibrateSession(ctx, sess.ID, cb)
		if err != nil {
			return total, err
		}
		total.Processed += r.Processed
		total.Skipped += r.Skipped
		total.Errored += r.Errored
	}
	return total, nil
}
