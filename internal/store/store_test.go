package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "astrofiler.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }
func str(v string) *string   { return &v }

func testFile(id, hash string) *File {
	return &File{
		ID:          id,
		Path:        "/data/" + id + ".fits",
		FrameType:   FrameLight,
		Object:      "M31",
		DateObs:     "2024-01-01T22:00:00",
		Date:        "2024-01-01",
		Exposure:    120,
		BinX:        1,
		BinY:        1,
		Telescope:   "EdgeHD8",
		Instrument:  "ASI2600",
		ContentHash: hash,
		SizeBytes:   1024,
	}
}

func TestStoreOpenAndMigrate(t *testing.T) {
	s := openTestStore(t)

	version, err := s.getSchemaVersion()
	if err != nil {
		t.Fatalf("failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", currentSchemaVersion, version)
	}

	tables := []string{"files", "sessions", "masters", "schema_version"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestFileInsertAndRetrieve(t *testing.T) {
	s := openTestStore(t)

	f := testFile("file-1", "hash-1")
	f.CCDTemp = f64(-10)
	f.Gain = f64(100)
	f.Filter = str("Ha")

	if err := s.InsertFile(f); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := s.GetFileByID("file-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected file, got nil")
	}
	if got.Object != "M31" || got.FrameType != FrameLight {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CCDTemp == nil || *got.CCDTemp != -10 {
		t.Errorf("expected ccd_temp -10, got %v", got.CCDTemp)
	}
	if got.Filter == nil || *got.Filter != "Ha" {
		t.Errorf("expected filter Ha, got %v", got.Filter)
	}
	if got.Offset != nil {
		t.Errorf("expected nil offset, got %v", *got.Offset)
	}
	if got.SessionID != nil {
		t.Errorf("expected unassigned file, got session %v", *got.SessionID)
	}
}

func TestContentHashDedup(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertFile(testFile("file-1", "same-hash")); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	// Second insert with the same content hash must violate the
	// live-records unique index
	if err := s.InsertFile(testFile("file-2", "same-hash")); err == nil {
		t.Fatal("expected unique constraint violation for duplicate hash")
	}

	existing, err := s.GetFileByHash("same-hash")
	if err != nil {
		t.Fatalf("hash lookup failed: %v", err)
	}
	if existing == nil || existing.ID != "file-1" {
		t.Errorf("expected file-1 from hash lookup, got %+v", existing)
	}

	// Soft-deleting releases the hash for a new live record
	if err := s.SoftDeleteFile("file-1"); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	if err := s.InsertFile(testFile("file-3", "same-hash")); err != nil {
		t.Errorf("insert after soft delete failed: %v", err)
	}
}

func TestMarkCalibrated(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertFile(testFile("file-1", "h1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.MarkCalibrated("file-1", "/data/file-1_cal.fits"); err != nil {
		t.Fatalf("mark calibrated failed: %v", err)
	}

	got, err := s.GetFileByID("file-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Calibrated || got.CalibratedPath != "/data/file-1_cal.fits" {
		t.Errorf("calibration flag not persisted: %+v", got)
	}
	if got.CalibratedAt == nil {
		t.Error("expected calibration timestamp")
	}
}

func TestWithLockRetryRecoversFromContention(t *testing.T) {
	attempts := 0
	err := withLockRetry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked (SQLITE_BUSY)")
		}
		return nil
	}, "mark calibrated")
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithLockRetryDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	err := withLockRetry(func() error {
		attempts++
		return errors.New("UNIQUE constraint failed: files.id")
	}, "insert file")
	if err == nil {
		t.Fatal("expected error to surface")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt for a non-lock error, got %d", attempts)
	}
}

func TestIsLockedErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("stepping, database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("SQLITE_BUSY: cannot commit"), true},
		{errors.New("no such table: files"), false},
	}
	for _, c := range cases {
		if got := isLockedErr(c.err); got != c.want {
			t.Errorf("isLockedErr(%v): expected %v, got %v", c.err, c.want, got)
		}
	}
}

func TestSessionLinkNeverOverwritten(t *testing.T) {
	s := openTestStore(t)

	light := &Session{ID: "light-1", Object: "M31", Date: "2024-01-05",
		Telescope: "T1", Instrument: "C1", BinX: 1, BinY: 1}
	if err := s.InsertSession(light); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	set, err := s.SetSessionLink("light-1", SessionDark, "dark-old")
	if err != nil {
		t.Fatalf("first link failed: %v", err)
	}
	if !set {
		t.Fatal("expected first link to be set")
	}

	// A second attempt, even with a newer target, must not overwrite
	set, err = s.SetSessionLink("light-1", SessionDark, "dark-new")
	if err != nil {
		t.Fatalf("second link failed: %v", err)
	}
	if set {
		t.Error("expected existing link to be preserved")
	}

	got, err := s.GetSessionByID("light-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.DarkSession == nil || *got.DarkSession != "dark-old" {
		t.Errorf("expected dark-old, got %v", got.DarkSession)
	}
}

func TestFindCalibrationCandidatePicksMostRecent(t *testing.T) {
	s := openTestStore(t)

	add := func(id, date string, gain *float64) {
		sess := &Session{ID: id, Object: SessionDark, Date: date,
			Telescope: "T1", Instrument: "C1", Exposure: 120, BinX: 1, BinY: 1,
			Gain: gain}
		if err := s.InsertSession(sess); err != nil {
			t.Fatalf("insert %s failed: %v", id, err)
		}
	}
	add("dark-jan", "2024-01-01", f64(100))
	add("dark-mar", "2024-03-01", f64(100))
	add("dark-jun", "2024-06-01", f64(100)) // after the light session
	add("dark-apr", "2024-04-01", f64(56))  // wrong gain

	light := &Session{ID: "l1", Object: "M31", Date: "2024-05-01",
		Telescope: "T1", Instrument: "C1", Exposure: 120, BinX: 1, BinY: 1,
		Gain: f64(100)}

	got, err := s.FindCalibrationCandidate(light, SessionDark)
	if err != nil {
		t.Fatalf("candidate lookup failed: %v", err)
	}
	if got == nil || got.ID != "dark-mar" {
		t.Errorf("expected dark-mar (most recent <= light date, matching gain), got %+v", got)
	}
}

func TestFindCalibrationCandidateNullGainMatchesNull(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertSession(&Session{ID: "bias-1", Object: SessionBias,
		Date: "2024-01-01", Telescope: "T1", Instrument: "C1", BinX: 2, BinY: 2}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	light := &Session{ID: "l1", Object: "M42", Date: "2024-02-01",
		Telescope: "T1", Instrument: "C1", BinX: 2, BinY: 2}

	got, err := s.FindCalibrationCandidate(light, SessionBias)
	if err != nil {
		t.Fatalf("candidate lookup failed: %v", err)
	}
	if got == nil || got.ID != "bias-1" {
		t.Errorf("null gain should match null gain, got %+v", got)
	}

	// But a light with a concrete gain must not match a null-gain bias
	light.Gain = f64(100)
	got, err = s.FindCalibrationCandidate(light, SessionBias)
	if err != nil {
		t.Fatalf("candidate lookup failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected no candidate for mismatched gain, got %+v", got)
	}
}

func TestFindMatchingMasterTemperatureRule(t *testing.T) {
	s := openTestStore(t)

	m := &Master{ID: "m1", Path: "/m/master-dark.fits", CalType: FrameDark,
		Telescope: "T1", Instrument: "C1", BinX: 1, BinY: 1,
		CCDTemp: f64(-10), Exposure: f64(120), SourceCount: 5}
	if err := s.InsertMaster(m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	base := MasterCriteria{CalType: FrameDark, Telescope: "T1", Instrument: "C1",
		BinX: 1, BinY: 1, Exposure: f64(120)}

	// Null temperature on the query side is a wildcard
	got, err := s.FindMatchingMaster(base)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got == nil || got.ID != "m1" {
		t.Errorf("expected match with null query temp, got %+v", got)
	}

	// Equal temperature matches
	base.CCDTemp = f64(-10)
	if got, _ = s.FindMatchingMaster(base); got == nil {
		t.Error("expected match with equal temp")
	}

	// Different temperature, both sides non-null: rejected
	base.CCDTemp = f64(-5)
	if got, _ = s.FindMatchingMaster(base); got != nil {
		t.Errorf("expected rejection for temp mismatch, got %+v", got)
	}
}

func TestUnreferencedMasterCleanupQuery(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	_, err := s.db.Exec(`
		INSERT INTO masters (id, path, cal_type, session_id, telescope, instrument,
			bin_x, bin_y, source_count, created_at)
		VALUES ('m-ref', '/m/ref.fits', 'DARK', 'cal-1', 'T1', 'C1', 1, 1, 3, ?),
		       ('m-orphan', '/m/orphan.fits', 'DARK', 'cal-2', 'T1', 'C1', 1, 1, 3, ?)
	`, old, old)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// cal-1 is referenced by a light session, cal-2 is not
	if err := s.InsertSession(&Session{ID: "light-1", Object: "M31",
		Date: "2024-01-01", Telescope: "T1", Instrument: "C1", BinX: 1, BinY: 1}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := s.SetSessionLink("light-1", SessionDark, "cal-1"); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	masters, err := s.UnreferencedMastersOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("cleanup query failed: %v", err)
	}
	if len(masters) != 1 || masters[0].ID != "m-orphan" {
		t.Errorf("expected only m-orphan, got %+v", masters)
	}
}
