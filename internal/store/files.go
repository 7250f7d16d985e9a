package store

import (
	"database/sql"
	"fmt"
	"time"
)

const fileColumns = `id, path, frame_type, COALESCE(object, ''), date_obs, date,
	exposure, bin_x, bin_y, ccd_temp, gain, "offset", filter,
	COALESCE(telescope, ''), COALESCE(instrument, ''), content_hash,
	COALESCE(size_bytes, 0), session_id, calibrated,
	COALESCE(calibrated_path, ''), calibrated_at, deleted,
	fwhm, eccentricity, hfr, snr, star_count, image_scale, registered_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	f := &File{}
	var (
		ccdTemp, gain, offset           sql.NullFloat64
		filter, sessionID               sql.NullString
		calibratedAt                    sql.NullTime
		fwhm, ecc, hfr, snr, imageScale sql.NullFloat64
		starCount                       sql.NullInt64
	)

	err := row.Scan(
		&f.ID, &f.Path, &f.FrameType, &f.Object, &f.DateObs, &f.Date,
		&f.Exposure, &f.BinX, &f.BinY, &ccdTemp, &gain, &offset, &filter,
		&f.Telescope, &f.Instrument, &f.ContentHash,
		&f.SizeBytes, &sessionID, &f.Calibrated,
		&f.CalibratedPath, &calibratedAt, &f.Deleted,
		&fwhm, &ecc, &hfr, &snr, &starCount, &imageScale, &f.RegisteredAt,
	)
	if err != nil {
		return nil, err
	}

	f.CCDTemp = floatPtr(ccdTemp)
	f.Gain = floatPtr(gain)
	f.Offset = floatPtr(offset)
	f.Filter = strPtr(filter)
	f.SessionID = strPtr(sessionID)
	f.CalibratedAt = timePtr(calibratedAt)
	f.FWHM = floatPtr(fwhm)
	f.Eccentricity = floatPtr(ecc)
	f.HFR = floatPtr(hfr)
	f.SNR = floatPtr(snr)
	f.StarCount = intPtr(starCount)
	f.ImageScale = floatPtr(imageScale)

	return f, nil
}

func scanFiles(rows *sql.Rows) ([]*File, error) {
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// InsertFile inserts a new file record
func (s *Store) InsertFile(f *File) error {
	_, err := s.db.Exec(`
		INSERT INTO files (id, path, frame_type, object, date_obs, date,
			exposure, bin_x, bin_y, ccd_temp, gain, "offset", filter,
			telescope, instrument, content_hash, size_bytes, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Path, f.FrameType, f.Object, f.DateObs, f.Date,
		f.Exposure, f.BinX, f.BinY, nullFloat(f.CCDTemp), nullFloat(f.Gain),
		nullFloat(f.Offset), nullStr(f.Filter), f.Telescope, f.Instrument,
		f.ContentHash, f.SizeBytes, nullStr(f.SessionID))
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetFileByID retrieves a file record by ID
func (s *Store) GetFileByID(id string) (*File, error) {
	f, err := scanFile(s.db.QueryRow(
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// GetFileByHash retrieves a live (non-deleted) file by its content
// hash. This is the dedup lookup.
func (s *Store) GetFileByHash(hash string) (*File, error) {
	f, err := scanFile(s.db.QueryRow(
		`SELECT `+fileColumns+` FROM files WHERE content_hash = ? AND deleted = 0`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file by hash: %w", err)
	}
	return f, nil
}

// UnassignedLightFiles returns light frames with no session, sorted by
// (object, date, filter) so session transitions are detected in a
// single linear pass.
func (s *Store) UnassignedLightFiles() ([]*File, error) {
	rows, err := s.db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE frame_type = ? AND session_id IS NULL AND deleted = 0
		ORDER BY object, date, COALESCE(filter, ''), date_obs
	`, FrameLight)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned lights: %w", err)
	}
	return scanFiles(rows)
}

// UnassignedCalibrationFiles returns unassigned calibration frames of
// one type, sorted on that type's grouping key.
func (s *Store) UnassignedCalibrationFiles(frameType string) ([]*File, error) {
	var orderBy string
	switch frameType {
	case FrameBias:
		orderBy = `telescope, instrument, date, bin_x, bin_y`
	case FrameDark:
		orderBy = `telescope, instrument, date, exposure, bin_x, bin_y`
	case FrameFlat:
		orderBy = `telescope, instrument, date, COALESCE(filter, ''), bin_x, bin_y`
	default:
		return nil, fmt.Errorf("not a calibration frame type: %s", frameType)
	}

	rows, err := s.db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE frame_type = ? AND session_id IS NULL AND deleted = 0
		ORDER BY `+orderBy+`, date_obs
	`, frameType)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassigned %s frames: %w", frameType, err)
	}
	return scanFiles(rows)
}

// FilesBySession returns a session's member files, optionally filtered
// by frame type (empty string matches all).
func (s *Store) FilesBySession(sessionID, frameType string) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE session_id = ? AND deleted = 0`
	args := []interface{}{sessionID}
	if frameType != "" {
		query += ` AND frame_type = ?`
		args = append(args, frameType)
	}
	query += ` ORDER BY date_obs`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session files: %w", err)
	}
	return scanFiles(rows)
}

// SetFileSession assigns a file to a session
func (s *Store) SetFileSession(fileID, sessionID string) error {
	_, err := s.db.Exec(`UPDATE files SET session_id = ? WHERE id = ?`, sessionID, fileID)
	if err != nil {
		return fmt.Errorf("failed to assign file %s to session: %w", fileID, err)
	}
	return nil
}

// MarkCalibrated flags a file as calibrated and records the output
// path. This is the highest-contention write in the system, so locked-
// database errors are retried with bounded linear backoff; any other
// error fails immediately.
func (s *Store) MarkCalibrated(fileID, calibratedPath string) error {
	return withLockRetry(func() error {
		_, err := s.db.Exec(`
			UPDATE files SET calibrated = 1, calibrated_path = ?, calibrated_at = ?
			WHERE id = ?
		`, calibratedPath, time.Now(), fileID)
		return err
	}, fmt.Sprintf("mark calibrated %s", fileID))
}

// SetFileQuality records quality metrics for a file
func (s *Store) SetFileQuality(fileID string, fwhm, ecc, hfr, snr *float64, starCount *int, imageScale *float64) error {
	_, err := s.db.Exec(`
		UPDATE files SET fwhm = ?, eccentricity = ?, hfr = ?, snr = ?,
			star_count = ?, image_scale = ?
		WHERE id = ?
	`, nullFloat(fwhm), nullFloat(ecc), nullFloat(hfr), nullFloat(snr),
		nullInt(starCount), nullFloat(imageScale), fileID)
	if err != nil {
		return fmt.Errorf("failed to set quality metrics: %w", err)
	}
	return nil
}

// SoftDeleteFile marks a file as logically removed
func (s *Store) SoftDeleteFile(fileID string) error {
	_, err := s.db.Exec(`UPDATE files SET deleted = 1 WHERE id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete file: %w", err)
	}
	return nil
}

// ClearSessionAssignments nulls out every file's session reference.
// Administrative reset, used before deleting all sessions.
func (s *Store) ClearSessionAssignments() error {
	_, err := s.db.Exec(`UPDATE files SET session_id = NULL`)
	if err != nil {
		return fmt.Errorf("failed to clear session assignments: %w", err)
	}
	return nil
}

// FileCountsByType returns counts of live files per frame type
func (s *Store) FileCountsByType() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT frame_type, COUNT(*) FROM files WHERE deleted = 0 GROUP BY frame_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// TotalFileBytes returns the aggregate size of live files
func (s *Store) TotalFileBytes() (int64, error) {
	var total int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(size_bytes), 0) FROM files WHERE deleted = 0
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum file sizes: %w", err)
	}
	return total, nil
}
