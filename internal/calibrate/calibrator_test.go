package calibrate

import (
	"context"
	"math"
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

// frame builds an in-memory float image with the given pixels
func frame(width, height int, pixels []float64) *fits.Image {
	img := fits.NewImage(-64, width, height)
	copy(img.Data, pixels)
	return img
}

func writeFrame(t *testing.T, path string, width, height int, pixels []float64) {
	t.Helper()
	img := frame(width, height, pixels)
	img.Header.SetString("IMAGETYP", "Light Frame", "")
	img.Header.SetString("DATE-OBS", "2024-01-01T22:00:00", "")
	img.Header.SetFloat("EXPTIME", 120.0, "")
	if err := fits.Write(path, img); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func mastersFor(bias, dark, flat string) *Masters {
	m := &Masters{}
	if bias != "" {
		m.Bias = &store.Master{ID: "m-bias", Path: bias, CalType: store.FrameBias}
	}
	if dark != "" {
		m.Dark = &store.Master{ID: "m-dark", Path: dark, CalType: store.FrameDark}
	}
	if flat != "" {
		m.Flat = &store.Master{ID: "m-flat", Path: flat, CalType: store.FrameFlat}
	}
	return m
}

func TestCalibrationFormula(t *testing.T) {
	light := frame(1, 1, []float64{100})
	dark := frame(1, 1, []float64{20})
	bias := frame(1, 1, []float64{5})
	flat := frame(1, 1, []float64{2.0})

	m := mastersFor("bias.fits", "dark.fits", "flat.fits")
	result, err := apply(light, m, bias, dark, flat)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// 100 - (20 - 5) = 85; constant flat normalizes to all-ones
	if result.Data[0] != 85 {
		t.Errorf("expected 85, got %g", result.Data[0])
	}
	if result.Offset != 0 {
		t.Errorf("expected no positivity shift, got %g", result.Offset)
	}
}

func TestBiasOnlyBranch(t *testing.T) {
	light := frame(1, 2, []float64{100, 200})
	bias := frame(1, 2, []float64{5, 10})

	m := mastersFor("bias.fits", "", "")
	result, err := apply(light, m, bias, nil, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.Data[0] != 95 || result.Data[1] != 190 {
		t.Errorf("expected [95 190], got %v", result.Data)
	}
}

func TestFlatNormFloor(t *testing.T) {
	light := frame(1, 3, []float64{100, 100, 100})
	// median is 10; the dead pixel normalizes to 0.01, clamped to 0.1
	flat := frame(1, 3, []float64{0.1, 10, 10})

	m := mastersFor("", "", "flat.fits")
	result, err := apply(light, m, nil, nil, flat)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.Data[0] != 1000 {
		t.Errorf("expected floor-clamped division to give 1000, got %g", result.Data[0])
	}
	if result.Data[1] != 100 {
		t.Errorf("expected unity division to give 100, got %g", result.Data[1])
	}
}

func TestPositivityShift(t *testing.T) {
	light := frame(1, 2, []float64{0, 50})
	dark := frame(1, 2, []float64{30, 20})

	m := mastersFor("", "dark.fits", "")
	result, err := apply(light, m, nil, dark, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// intermediate is [-30, 30]; min -30 shifts by 130
	if result.Offset != 130 {
		t.Fatalf("expected offset 130, got %g", result.Offset)
	}
	if result.Data[0] != 100 || result.Data[1] != 160 {
		t.Errorf("expected [100 160], got %v", result.Data)
	}
	// subtracting the offset reproduces the intermediate exactly
	if result.Data[0]-result.Offset != -30 || result.Data[1]-result.Offset != 30 {
		t.Error("round-trip through the offset does not reproduce the intermediate")
	}
}

func TestCalibrateFileWritesShiftedOutput(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	lightPath := filepath.Join(dir, "m31.fits")
	darkPath := filepath.Join(dir, "master-dark.fits")
	writeFrame(t, lightPath, 1, 2, []float64{0, 50})
	writeFrame(t, darkPath, 1, 2, []float64{30, 20})

	f := &store.File{
		ID: "f1", Path: lightPath, FrameType: store.FrameLight,
		Object: "M31", DateObs: "2024-01-01T22:00:00", Date: "2024-01-01",
		Exposure: 120, BinX: 1, BinY: 1,
		Telescope: "EdgeHD8", Instrument: "ASI2600",
		ContentHash: "h1", SizeBytes: 100,
	}
	if err := s.InsertFile(f); err != nil {
		t.Fatal(err)
	}

	c := New(Config{Store: s, Logger: report.NullLogger()})
	outPath, err := c.CalibrateFile(f, mastersFor("", darkPath, ""))
	if err != nil {
		t.Fatalf("calibration failed: %v", err)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if out.Bitpix != -32 {
		t.Errorf("expected BITPIX -32, got %d", out.Bitpix)
	}

	bzero, ok := out.Header.GetFloat("BZERO")
	if !ok || bzero != 130 {
		t.Fatalf("expected BZERO 130, got %g (present %v)", bzero, ok)
	}
	if bscale, _ := out.Header.GetFloat("BSCALE"); bscale != 1.0 {
		t.Errorf("expected BSCALE 1.0, got %g", bscale)
	}

	want := []float64{-30, 30}
	for i, w := range want {
		if got := out.Data[i] - bzero; got != w {
			t.Errorf("pixel %d: expected intermediate %g, got %g", i, w, got)
		}
	}

	if v := out.Header.GetString("DARKMAST"); v != "master-dark.fits" {
		t.Errorf("expected dark master provenance, got %q", v)
	}
	if hash := out.Header.GetString("DARKHASH"); len(hash) != 16 {
		t.Errorf("expected 16-char truncated hash, got %q", hash)
	}
	if med, _ := out.Header.GetFloat("CALMED"); med != 130 {
		t.Errorf("expected output median 130, got %g", med)
	}

	got, err := s.GetFileByID("f1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Calibrated || got.CalibratedPath != outPath || got.CalibratedAt == nil {
		t.Errorf("expected calibrated flag set, got %+v", got)
	}
}

func TestCalibrateFileDropsStaleChecksums(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	lightPath := filepath.Join(dir, "m31.fits")
	darkPath := filepath.Join(dir, "master-dark.fits")

	light := frame(1, 1, []float64{100})
	light.Header.SetString("IMAGETYP", "Light Frame", "")
	light.Header.SetString("DATE-OBS", "2024-01-01T22:00:00", "")
	light.Header.SetFloat("EXPTIME", 120.0, "")
	light.Header.SetString("CHECKSUM", "9mJA9j9A9jGA9j9A", "")
	light.Header.SetString("DATASUM", "123456789", "")
	if err := fits.Write(lightPath, light); err != nil {
		t.Fatal(err)
	}
	writeFrame(t, darkPath, 1, 1, []float64{20})

	f := &store.File{
		ID: "f1", Path: lightPath, FrameType: store.FrameLight,
		Object: "M31", DateObs: "2024-01-01T22:00:00", Date: "2024-01-01",
		Exposure: 120, BinX: 1, BinY: 1,
		Telescope: "EdgeHD8", Instrument: "ASI2600",
		ContentHash: "h1", SizeBytes: 100,
	}
	if err := s.InsertFile(f); err != nil {
		t.Fatal(err)
	}

	c := New(Config{Store: s, Logger: report.NullLogger()})
	outPath, err := c.CalibrateFile(f, mastersFor("", darkPath, ""))
	if err != nil {
		t.Fatalf("calibration failed: %v", err)
	}

	out, err := fits.Open(outPath)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if v := out.Header.GetString("CHECKSUM"); v != "" {
		t.Errorf("expected CHECKSUM dropped from calibrated output, got %q", v)
	}
	if v := out.Header.GetString("DATASUM"); v != "" {
		t.Errorf("expected DATASUM dropped from calibrated output, got %q", v)
	}
}

func TestCalibrateSessionSkipsAndContinues(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()

	darkPath := filepath.Join(dir, "master-dark.fits")
	writeFrame(t, darkPath, 1, 1, []float64{10})

	darkSess := &store.Session{
		ID: "dark-s", Object: store.SessionDark, Date: "2024-01-01",
		Telescope: "EdgeHD8", Instrument: "ASI2600",
		Exposure: 120, BinX: 1, BinY: 1,
	}
	if err := s.InsertSession(darkSess); err != nil {
		t.Fatal(err)
	}
	darkID := "dark-s"
	if err := s.InsertMaster(&store.Master{
		ID: "m1", Path: darkPath, CalType: store.FrameDark,
		SessionID: &darkID, Telescope: "EdgeHD8", Instrument: "ASI2600",
		BinX: 1, BinY: 1, SourceCount: 2, ContentHash: "mh",
	}); err != nil {
		t.Fatal(err)
	}

	lightSess := &store.Session{
		ID: "light-s", Object: "M31", Date: "2024-01-01",
		Telescope: "EdgeHD8", Instrument: "ASI2600",
		Exposure: 120, BinX: 1, BinY: 1,
	}
	if err := s.InsertSession(lightSess); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetSessionLink("light-s", store.SessionDark, "dark-s"); err != nil {
		t.Fatal(err)
	}

	sessID := "light-s"
	paths := []string{
		filepath.Join(dir, "good.fits"),
		filepath.Join(dir, "missing.fits"), // never written
	}
	writeFrame(t, paths[0], 1, 1, []float64{100})
	for i, p := range paths {
		f := &store.File{
			ID: "f" + string(rune('1'+i)), Path: p, FrameType: store.FrameLight,
			Object: "M31", DateObs: "2024-01-01T22:00:00", Date: "2024-01-01",
			Exposure: 120, BinX: 1, BinY: 1,
			Telescope: "EdgeHD8", Instrument: "ASI2600",
			ContentHash: "h" + string(rune('1'+i)), SizeBytes: 100,
			SessionID: &sessID,
		}
		if err := s.InsertFile(f); err != nil {
			t.Fatal(err)
		}
	}

	c := New(Config{Store: s, Logger: report.NullLogger()})
	result, err := c.CalibrateSession(context.Background(), "light-s", nil)
	if err != nil {
		t.Fatalf("calibration failed: %v", err)
	}
	if result.Processed != 1 || result.Errored != 1 {
		t.Fatalf("expected 1 processed 1 errored, got %+v", result)
	}

	// second run skips the already-calibrated file, retries the broken one
	result, err = c.CalibrateSession(context.Background(), "light-s", nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Skipped != 1 || result.Errored != 1 {
		t.Errorf("expected 1 skipped 1 errored on rerun, got %+v", result)
	}

	// force recalibrates everything
	cf := New(Config{Store: s, Logger: report.NullLogger(), Force: true})
	result, err = cf.CalibrateSession(context.Background(), "light-s", nil)
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if result.Processed != 1 || result.Skipped != 0 {
		t.Errorf("expected forced reprocess, got %+v", result)
	}
}

func TestPrecalibratedSessionSkipped(t *testing.T) {
	s := openTestStore(t)
	sess := &store.Session{
		ID: "light-s", Object: "M31", Date: "2024-01-01",
		Telescope: "Seestar S50", Instrument: "builtin",
		Exposure: 10, BinX: 1, BinY: 1,
	}
	if err := s.InsertSession(sess); err != nil {
		t.Fatal(err)
	}

	c := New(Config{Store: s, Logger: report.NullLogger(), Precalibrated: []string{"seestar"}})
	result, err := c.CalibrateSession(context.Background(), "light-s", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 || result.Errored != 0 {
		t.Errorf("expected precalibrated session untouched, got %+v", result)
	}
}

func TestOutputPath(t *testing.T) {
	if got := outputPath("/data/m31_001.fits"); got != "/data/m31_001_cal.fits" {
		t.Errorf("unexpected output path %q", got)
	}
}

func TestRawDarkOnShapeMismatch(t *testing.T) {
	light := frame(1, 2, []float64{100, 100})
	dark := frame(1, 2, []float64{20, 20})
	bias := frame(1, 1, []float64{5}) // wrong shape, ignored with a warning

	m := mastersFor("bias.fits", "dark.fits", "")
	result, err := apply(light, m, bias, dark, nil)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if result.Data[0] != 80 {
		t.Errorf("expected raw dark subtraction to give 80, got %g", result.Data[0])
	}
	if math.IsNaN(result.Data[1]) {
		t.Error("unexpected NaN in output")
	}
}
