package store

import (
	"database/sql"
	"fmt"
)

const sessionColumns = `id, object, date, COALESCE(telescope, ''),
	COALESCE(instrument, ''), COALESCE(exposure, 0), COALESCE(bin_x, 1),
	COALESCE(bin_y, 1), ccd_temp, gain, "offset", filter,
	bias_session, dark_session, flat_session,
	auto_cal, source_bias, source_dark, source_flat,
	fwhm_avg, eccentricity_avg, hfr_avg, snr_avg, star_count_avg,
	image_scale_avg, created_at`

func scanSession(row rowScanner) (*Session, error) {
	sess := &Session{}
	var (
		ccdTemp, gain, offset              sql.NullFloat64
		filter                             sql.NullString
		biasRef, darkRef, flatRef          sql.NullString
		srcBias, srcDark, srcFlat          sql.NullString
		fwhm, ecc, hfr, snr, stars, iscale sql.NullFloat64
	)

	err := row.Scan(
		&sess.ID, &sess.Object, &sess.Date, &sess.Telescope,
		&sess.Instrument, &sess.Exposure, &sess.BinX, &sess.BinY,
		&ccdTemp, &gain, &offset, &filter,
		&biasRef, &darkRef, &flatRef,
		&sess.AutoCal, &srcBias, &srcDark, &srcFlat,
		&fwhm, &ecc, &hfr, &snr, &stars, &iscale, &sess.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.CCDTemp = floatPtr(ccdTemp)
	sess.Gain = floatPtr(gain)
	sess.Offset = floatPtr(offset)
	sess.Filter = strPtr(filter)
	sess.BiasSession = strPtr(biasRef)
	sess.DarkSession = strPtr(darkRef)
	sess.FlatSession = strPtr(flatRef)
	sess.SourceBias = strPtr(srcBias)
	sess.SourceDark = strPtr(srcDark)
	sess.SourceFlat = strPtr(srcFlat)
	sess.FWHMAvg = floatPtr(fwhm)
	sess.EccentricityAvg = floatPtr(ecc)
	sess.HFRAvg = floatPtr(hfr)
	sess.SNRAvg = floatPtr(snr)
	sess.StarCountAvg = floatPtr(stars)
	sess.ImageScaleAvg = floatPtr(iscale)

	return sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	defer rows.Close()
	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InsertSession inserts a new session record
func (s *Store) InsertSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, object, date, telescope, instrument,
			exposure, bin_x, bin_y, ccd_temp, gain, "offset", filter,
			auto_cal, source_bias, source_dark, source_flat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Object, sess.Date, sess.Telescope, sess.Instrument,
		sess.Exposure, sess.BinX, sess.BinY, nullFloat(sess.CCDTemp),
		nullFloat(sess.Gain), nullFloat(sess.Offset), nullStr(sess.Filter),
		sess.AutoCal, nullStr(sess.SourceBias), nullStr(sess.SourceDark),
		nullStr(sess.SourceFlat))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSessionByID retrieves a session record by ID
func (s *Store) GetSessionByID(id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// LightSessions returns all non-calibration sessions
func (s *Store) LightSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE object NOT IN (?, ?, ?)
		ORDER BY date, object
	`, SessionBias, SessionDark, SessionFlat)
	if err != nil {
		return nil, fmt.Errorf("failed to query light sessions: %w", err)
	}
	return scanSessions(rows)
}

// LightSessionsNeedingLinks returns light sessions that lack at least
// one calibration cross-reference.
func (s *Store) LightSessionsNeedingLinks() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE object NOT IN (?, ?, ?)
		  AND (bias_session IS NULL OR dark_session IS NULL OR flat_session IS NULL)
		ORDER BY date, object
	`, SessionBias, SessionDark, SessionFlat)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions needing links: %w", err)
	}
	return scanSessions(rows)
}

// CalibrationSessions returns all bias/dark/flat sessions
func (s *Store) CalibrationSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sessionColumns+` FROM sessions
		WHERE object IN (?, ?, ?)
		ORDER BY date
	`, SessionBias, SessionDark, SessionFlat)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration sessions: %w", err)
	}
	return scanSessions(rows)
}

// FindCalibrationCandidate returns the most recent calibration session
// of the given object name ("Bias"/"Dark"/"Flat") compatible with a
// light session: equal telescope, instrument, binning, gain and offset
// (null matching null), dated on or before the light session. Darks
// additionally require equal exposure, flats equal filter. CCD
// temperature is deliberately not part of these criteria. Ties on date
// are broken by storage order.
func (s *Store) FindCalibrationCandidate(light *Session, object string) (*Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE object = ? AND telescope = ? AND instrument = ?
		  AND date <= ? AND bin_x = ? AND bin_y = ?
		  AND gain IS ? AND "offset" IS ?`
	args := []interface{}{
		object, light.Telescope, light.Instrument,
		light.Date, light.BinX, light.BinY,
		nullFloat(light.Gain), nullFloat(light.Offset),
	}

	switch object {
	case SessionDark:
		query += ` AND exposure = ?`
		args = append(args, light.Exposure)
	case SessionFlat:
		query += ` AND filter IS ?`
		args = append(args, nullStr(light.Filter))
	}

	query += ` ORDER BY date DESC LIMIT 1`

	sess, err := scanSession(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s candidate: %w", object, err)
	}
	return sess, nil
}

// SetSessionLink populates one calibration cross-reference on a light
// session. The guard in the WHERE clause makes this idempotent: an
// existing reference is never overwritten.
func (s *Store) SetSessionLink(sessionID, object, targetID string) (bool, error) {
	var column string
	switch object {
	case SessionBias:
		column = "bias_session"
	case SessionDark:
		column = "dark_session"
	case SessionFlat:
		column = "flat_session"
	default:
		return false, fmt.Errorf("not a calibration session object: %s", object)
	}

	result, err := s.db.Exec(
		`UPDATE sessions SET `+column+` = ? WHERE id = ? AND `+column+` IS NULL`,
		targetID, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to set %s link: %w", column, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check link update: %w", err)
	}
	return n > 0, nil
}

// UpdateSessionQuality recomputes a session's aggregate quality means
// from its member files. SQL AVG skips nulls, matching the per-field
// skip-null contract.
func (s *Store) UpdateSessionQuality(sessionID string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET
			fwhm_avg = (SELECT AVG(fwhm) FROM files WHERE session_id = ? AND deleted = 0),
			eccentricity_avg = (SELECT AVG(eccentricity) FROM files WHERE session_id = ? AND deleted = 0),
			hfr_avg = (SELECT AVG(hfr) FROM files WHERE session_id = ? AND deleted = 0),
			snr_avg = (SELECT AVG(snr) FROM files WHERE session_id = ? AND deleted = 0),
			star_count_avg = (SELECT AVG(star_count) FROM files WHERE session_id = ? AND deleted = 0),
			image_scale_avg = (SELECT AVG(image_scale) FROM files WHERE session_id = ? AND deleted = 0)
		WHERE id = ?
	`, sessionID, sessionID, sessionID, sessionID, sessionID, sessionID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session quality: %w", err)
	}
	return nil
}

// SessionFileCount returns the number of live member files
func (s *Store) SessionFileCount(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM files WHERE session_id = ? AND deleted = 0
	`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count session files: %w", err)
	}
	return n, nil
}

// DeleteAllSessions removes every session row. Callers must clear the
// files' session references first; this does not touch file records.
func (s *Store) DeleteAllSessions() error {
	_, err := s.db.Exec(`DELETE FROM sessions`)
	if err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}
