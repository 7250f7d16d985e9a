// Package ingest registers FITS files into the record store: header
// validation, content-hash dedup, and directory scanning.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

// FitsExtensions are the file extensions treated as FITS images
var FitsExtensions = []string{".fits", ".fit", ".fts"}

// Ingestor registers exposure files
type Ingestor struct {
	store  *store.Store
	logger *report.EventLogger
	dryRun bool
}

// Config holds ingestor configuration
type Config struct {
	Store  *store.Store
	Logger *report.EventLogger
	DryRun bool
}

// New creates a new Ingestor
func New(cfg *Config) *Ingestor {
	return &Ingestor{
		store:  cfg.Store,
		logger: cfg.Logger,
		dryRun: cfg.DryRun,
	}
}

// Result represents ingestion results
type Result struct {
	Registered int
	Duplicates int
	Invalid    int
	Errors     []error
}

// IsFitsFile reports whether a path has a recognized FITS extension
func IsFitsFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range FitsExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IngestFile registers a single file. When the content hash is already
// known, the existing record is returned with created=false and no
// insert is performed.
func (in *Ingestor) IngestFile(path string) (f *store.File, created bool, err error) {
	img, err := fits.OpenHeader(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read FITS header: %w", err)
	}

	rec, err := RecordFromHeader(path, img.Header)
	if err != nil {
		return nil, false, err
	}

	hash, err := util.ContentHash(path)
	if err != nil {
		return nil, false, err
	}

	existing, err := in.store.GetFileByHash(hash)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		in.logger.LogDuplicate(existing.ID, path)
		return existing, false, nil
	}

	size, err := util.FileSize(path)
	if err != nil {
		return nil, false, err
	}

	rec.ID = uuid.NewString()
	rec.ContentHash = hash
	rec.SizeBytes = size

	if in.dryRun {
		util.InfoLog("Dry run: would register %s (%s, %s)", path, rec.FrameType, rec.Date)
		return rec, true, nil
	}

	if err := in.store.InsertFile(rec); err != nil {
		return nil, false, err
	}

	in.logger.LogIngest(rec.ID, path, size)
	return rec, true, nil
}

// IngestDir walks a directory tree and registers every FITS file found,
// in deterministic path order. Single-file failures are contained and
// counted; the walk itself failing is fatal.
func (in *Ingestor) IngestDir(ctx context.Context, dir string, cb progress.Func) (*Result, error) {
	util.InfoLog("Scanning %s for FITS files", dir)

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsFitsFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	util.InfoLog("Found %d FITS files", len(paths))

	result := &Result{}
	if cb == nil {
		cb = progress.Nop
	}

	for i, path := range paths {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		_, created, err := in.IngestFile(path)
		switch {
		case err != nil:
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				result.Invalid++
				util.WarnLog("Skipping %s: %v", path, err)
			} else {
				result.Errors = append(result.Errors, err)
				util.ErrorLog("Failed to ingest %s: %v", path, err)
			}
			in.logger.LogError("", path, err)
		case created:
			result.Registered++
		default:
			result.Duplicates++
		}

		if !cb(i+1, len(paths), filepath.Base(path)) {
			util.InfoLog("Ingestion cancelled after %d/%d files", i+1, len(paths))
			return result, nil
		}
	}

	return result, nil
}
