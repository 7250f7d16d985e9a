package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "astrofiler.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// writeFrame writes a minimal light frame; fill distinguishes content
func writeFrame(t *testing.T, path string, fill float64, mutate func(*fits.Header)) {
	t.Helper()
	img := fits.NewImage(16, 2, 2)
	for i := range img.Data {
		img.Data[i] = fill
	}
	img.Header.SetString("IMAGETYP", "Light Frame", "")
	img.Header.SetString("OBJECT", "M31", "")
	img.Header.SetString("DATE-OBS", "2024-01-01T22:30:00", "")
	img.Header.SetFloat("EXPTIME", 120.0, "")
	img.Header.SetString("TELESCOP", "EdgeHD8", "")
	img.Header.SetString("INSTRUME", "ASI2600", "")
	img.Header.SetInt("XBINNING", 1, "")
	img.Header.SetInt("YBINNING", 1, "")
	if mutate != nil {
		mutate(img.Header)
	}
	if err := fits.Write(path, img); err != nil {
		t.Fatalf("failed to write test frame: %v", err)
	}
}

func TestIngestRegistersFile(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "m31.fits")
	writeFrame(t, path, 100, func(h *fits.Header) {
		h.SetFloat("CCD-TEMP", -10.0, "")
		h.SetString("FILTER", "Ha", "")
	})

	in := New(&Config{Store: s, Logger: report.NullLogger()})
	f, created, err := in.IngestFile(path)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !created {
		t.Fatal("expected new record")
	}
	if f.FrameType != store.FrameLight || f.Object != "M31" || f.Date != "2024-01-01" {
		t.Errorf("unexpected record: %+v", f)
	}
	if f.Filter == nil || *f.Filter != "Ha" {
		t.Errorf("expected filter Ha, got %v", f.Filter)
	}
	if f.ContentHash == "" || f.ID == "" {
		t.Error("expected hash and ID to be set")
	}
}

func TestIngestDedupByContentHash(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	// Two paths, identical content
	p1 := filepath.Join(dir, "a.fits")
	p2 := filepath.Join(dir, "copy-of-a.fits")
	writeFrame(t, p1, 100, nil)
	writeFrame(t, p2, 100, nil)

	in := New(&Config{Store: s, Logger: report.NullLogger()})

	first, created, err := in.IngestFile(p1)
	if err != nil || !created {
		t.Fatalf("first ingest: created=%v err=%v", created, err)
	}

	second, created, err := in.IngestFile(p2)
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if created {
		t.Error("expected dedup hit, got new record")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing ID %s, got %s", first.ID, second.ID)
	}

	counts, err := s.FileCountsByType()
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if counts[store.FrameLight] != 1 {
		t.Errorf("expected exactly 1 record, got %d", counts[store.FrameLight])
	}
}

func TestIngestRejectsMissingDate(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "nodate.fits")
	writeFrame(t, path, 100, func(h *fits.Header) {
		h.Remove("DATE-OBS")
	})

	in := New(&Config{Store: s, Logger: report.NullLogger()})
	_, _, err := in.IngestFile(path)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "DATE-OBS" {
		t.Errorf("expected DATE-OBS field, got %s", vErr.Field)
	}
}

func TestIngestDirCountsAndContinues(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	writeFrame(t, filepath.Join(dir, "good1.fits"), 100, nil)
	writeFrame(t, filepath.Join(dir, "good2.fits"), 200, nil)
	writeFrame(t, filepath.Join(dir, "bad.fits"), 300, func(h *fits.Header) {
		h.Remove("EXPTIME")
	})

	in := New(&Config{Store: s, Logger: report.NullLogger()})
	result, err := in.IngestDir(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("ingest dir failed: %v", err)
	}
	if result.Registered != 2 {
		t.Errorf("expected 2 registered, got %d", result.Registered)
	}
	if result.Invalid != 1 {
		t.Errorf("expected 1 invalid, got %d", result.Invalid)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no hard errors, got %v", result.Errors)
	}
}

func TestDetectFrameType(t *testing.T) {
	tests := []struct {
		imageType string
		filename  string
		want      string
		ok        bool
	}{
		{"Light Frame", "x.fits", store.FrameLight, true},
		{"DARK", "x.fits", store.FrameDark, true},
		{"Flat Field", "x.fits", store.FrameFlat, true},
		{"Bias Frame", "x.fits", store.FrameBias, true},
		{"zero", "x.fits", store.FrameBias, true},
		{"", "M31_Light_120s.fits", store.FrameLight, true},
		{"", "dark_120s_bin1.fits", store.FrameDark, true},
		{"", "IMG_0001.fits", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectFrameType(tt.imageType, tt.filename)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DetectFrameType(%q, %q) = %q,%v want %q,%v",
				tt.imageType, tt.filename, got, ok, tt.want, tt.ok)
		}
	}
}
