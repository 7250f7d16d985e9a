// Package master builds combined calibration frames from calibration
// sessions and manages their records.
package master

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

// DefaultMinFiles is the minimum number of source frames per master
const DefaultMinFiles = 2

// Builder produces master frames from calibration sessions
type Builder struct {
	store  *store.Store
	logger *report.EventLogger
	cfg    Config
}

// Config holds builder configuration
type Config struct {
	Store     *store.Store
	Logger    *report.EventLogger
	OutputDir string
	WorkDir   string // scratch space for the external stacker ("" = system temp)
	StackTool string // external stacking tool; "" disables the attempt
	Version   string // written into provenance headers
	SigmaClip bool   // use the built-in sigma-clipped combine instead of the plain mean
	DryRun    bool
}

// NewBuilder creates a new Builder
func NewBuilder(cfg Config) *Builder {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Builder{
		store:  cfg.Store,
		logger: cfg.Logger,
		cfg:    cfg,
	}
}

// BuildResult represents batch build results
type BuildResult struct {
	Built        int
	Reused       int
	Insufficient int
	Errors       []error
}

// frameTypeForSession maps a calibration session object to its frame type
func frameTypeForSession(object string) string {
	switch object {
	case store.SessionBias:
		return store.FrameBias
	case store.SessionDark:
		return store.FrameDark
	case store.SessionFlat:
		return store.FrameFlat
	}
	return ""
}

// CriteriaForSession derives the master matching tuple from a
// calibration session.
func CriteriaForSession(sess *store.Session) store.MasterCriteria {
	c := store.MasterCriteria{
		CalType:    frameTypeForSession(sess.Object),
		Telescope:  sess.Telescope,
		Instrument: sess.Instrument,
		BinX:       sess.BinX,
		BinY:       sess.BinY,
		Gain:       sess.Gain,
		Offset:     sess.Offset,
		CCDTemp:    sess.CCDTemp,
	}
	switch sess.Object {
	case store.SessionDark:
		e := sess.Exposure
		c.Exposure = &e
	case store.SessionFlat:
		c.Filter = sess.Filter
	}
	return c
}

// CriteriaForLight derives, for one calibration type, the master
// matching tuple a light session needs.
func CriteriaForLight(light *store.Session, calType string) store.MasterCriteria {
	c := store.MasterCriteria{
		CalType:    calType,
		Telescope:  light.Telescope,
		Instrument: light.Instrument,
		BinX:       light.BinX,
		BinY:       light.BinY,
		Gain:       light.Gain,
		Offset:     light.Offset,
		CCDTemp:    light.CCDTemp,
	}
	switch calType {
	case store.FrameDark:
		e := light.Exposure
		c.Exposure = &e
	case store.FrameFlat:
		c.Filter = light.Filter
	}
	return c
}

// sanitizeToken makes a header value safe for use in a filename:
// unicode-normalized, runs of anything but letters and digits
// collapsed to a single underscore.
func sanitizeToken(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
		} else if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

// masterFileName builds the canonical output name:
// Master-<Type>-<Telescope>-<Instrument>[-<Filter>]-<date>-<exposure>s-<binX>x<binY>[-t<temp>].fits
func masterFileName(sess *store.Session) string {
	parts := []string{
		"Master",
		sess.Object,
		sanitizeToken(sess.Telescope),
		sanitizeToken(sess.Instrument),
	}
	if sess.Object == store.SessionFlat && sess.Filter != nil {
		parts = append(parts, sanitizeToken(*sess.Filter))
	}
	parts = append(parts,
		sess.Date,
		fmt.Sprintf("%gs", sess.Exposure),
		fmt.Sprintf("%dx%d", sess.BinX, sess.BinY),
	)
	if sess.CCDTemp != nil {
		parts = append(parts, fmt.Sprintf("t%g", *sess.CCDTemp))
	}
	return strings.Join(parts, "-") + ".fits"
}

// CreateMasterFromSession combines a calibration session's frames into
// a master and persists its record. Returns (nil, nil) when the
// session has fewer than minFiles usable frames; the caller is
// responsible for any reuse check before invoking this (the build
// itself is unconditional).
func (b *Builder) CreateMasterFromSession(ctx context.Context, sessionID string, minFiles int) (*store.Master, error) {
	if minFiles <= 0 {
		minFiles = DefaultMinFiles
	}

	sess, err := b.store.GetSessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("no such session: %s", sessionID)
	}
	frameType := frameTypeForSession(sess.Object)
	if frameType == "" {
		return nil, fmt.Errorf("session %s is not a calibration session (object %q)", sessionID, sess.Object)
	}

	files, err := b.store.FilesBySession(sessionID, frameType)
	if err != nil {
		return nil, err
	}
	if len(files) < minFiles {
		util.InfoLog("Session %s has %d %s frames, need %d; skipping master",
			sessionID, len(files), frameType, minFiles)
		return nil, nil
	}

	outName := masterFileName(sess)
	outPath := filepath.Join(b.cfg.OutputDir, outName)

	if b.cfg.DryRun {
		util.InfoLog("Dry run: would stack %d frames into %s", len(files), outPath)
		return nil, nil
	}

	if err := util.EnsureDir(b.cfg.OutputDir); err != nil {
		return nil, err
	}

	var paths []string
	var totalBytes int64
	for _, f := range files {
		paths = append(paths, f.Path)
		totalBytes += f.SizeBytes
	}

	stacked, err := b.stack(paths, frameType == store.FrameFlat)
	if err != nil {
		return nil, fmt.Errorf("failed to stack session %s: %w", sessionID, err)
	}

	img := &fits.Image{
		Header: fits.NewHeader(),
		Bitpix: stacked.Bitpix,
		Width:  stacked.Width,
		Height: stacked.Height,
		Data:   stacked.Data,
	}
	b.writeProvenance(img.Header, sess, frameType, stacked.Method, len(files), totalBytes, paths)

	if err := fits.Write(outPath, img); err != nil {
		return nil, err
	}

	hash, err := util.ContentHash(outPath)
	if err != nil {
		return nil, err
	}

	m := &store.Master{
		ID:          uuid.NewString(),
		Path:        outPath,
		CalType:     frameType,
		SessionID:   &sess.ID,
		Telescope:   sess.Telescope,
		Instrument:  sess.Instrument,
		BinX:        sess.BinX,
		BinY:        sess.BinY,
		CCDTemp:     sess.CCDTemp,
		Gain:        sess.Gain,
		Offset:      sess.Offset,
		SourceCount: len(files),
		ContentHash: hash,
		Valid:       true,
	}
	switch frameType {
	case store.FrameDark:
		e := sess.Exposure
		m.Exposure = &e
	case store.FrameFlat:
		m.Filter = sess.Filter
	}

	if err := b.store.InsertMaster(m); err != nil {
		return nil, err
	}

	b.logger.LogMaster(m.ID, sess.ID, frameType, outPath, stacked.Method)
	util.SuccessLog("Built master %s from %d frames (%s)", outName, len(files), stacked.Method)
	return m, nil
}

func (b *Builder) writeProvenance(hdr *fits.Header, sess *store.Session, frameType, method string, count int, totalBytes int64, sources []string) {
	hdr.SetString("IMAGETYP", "Master "+sess.Object, "")
	hdr.SetInt("NCOMBINE", count, "number of source frames")
	hdr.SetString("CREATOR", "astrofiler "+b.cfg.Version, "")
	hdr.SetString("TELESCOP", sess.Telescope, "")
	hdr.SetString("INSTRUME", sess.Instrument, "")
	hdr.SetString("DATE-OBS", sess.Date, "session date")
	hdr.SetInt("XBINNING", sess.BinX, "")
	hdr.SetInt("YBINNING", sess.BinY, "")
	if sess.CCDTemp != nil {
		hdr.SetFloat("CCD-TEMP", *sess.CCDTemp, "")
	}
	if sess.Gain != nil {
		hdr.SetFloat("GAIN", *sess.Gain, "")
	}
	if sess.Offset != nil {
		hdr.SetFloat("OFFSET", *sess.Offset, "")
	}
	switch frameType {
	case store.FrameDark:
		hdr.SetFloat("EXPTIME", sess.Exposure, "")
	case store.FrameFlat:
		if sess.Filter != nil {
			hdr.SetString("FILTER", *sess.Filter, "")
		}
	}
	hdr.SetInt("SRCBYTES", int(totalBytes), "aggregate source size")

	if method == "sigma-clip" {
		hdr.AddHistory(fmt.Sprintf("Stacked %d frames, sigma-clip rejection %g low / %g high",
			count, sigmaLow, sigmaHigh))
		if frameType == store.FrameFlat {
			hdr.AddHistory("Frames normalized multiplicatively before stacking")
		}
	} else {
		hdr.AddHistory(fmt.Sprintf("Averaged %d frames, simple mean", count))
	}
	hdr.AddHistory(fmt.Sprintf("Total source data: %s", humanize.Bytes(uint64(totalBytes))))
	for _, src := range sources {
		hdr.AddHistory("Source: " + filepath.Base(src))
	}
}

// BuildAll builds a master for every calibration session that lacks a
// matching one. With force set, existing matches are ignored and new
// masters are built unconditionally.
func (b *Builder) BuildAll(ctx context.Context, minFiles int, force bool, cb progress.Func) (*BuildResult, error) {
	sessions, err := b.store.CalibrationSessions()
	if err != nil {
		return nil, err
	}
	if cb == nil {
		cb = progress.Nop
	}

	result := &BuildResult{}

	for i, sess := range sessions {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if !force {
			existing, err := b.store.FindMatchingMaster(CriteriaForSession(sess))
			if err != nil {
				return result, err
			}
			if existing != nil {
				util.DebugLog("Session %s already covered by master %s", sess.ID, existing.ID)
				result.Reused++
				if !cb(i+1, len(sessions), sess.Object) {
					return result, nil
				}
				continue
			}
		}

		m, err := b.CreateMasterFromSession(ctx, sess.ID, minFiles)
		switch {
		case err != nil:
			// Contained per session; the batch continues
			util.ErrorLog("Failed to build master for session %s: %v", sess.ID, err)
			b.logger.LogError("", "", err)
			result.Errors = append(result.Errors, err)
		case m == nil:
			result.Insufficient++
		default:
			result.Built++
		}

		if !cb(i+1, len(sessions), sess.Object) {
			util.InfoLog("Master building cancelled after %d/%d sessions", i+1, len(sessions))
			return result, nil
		}
	}

	return result, nil
}
