package store

import (
	"database/sql"
	"fmt"
	"time"
)

const masterColumns = `id, path, cal_type, session_id,
	COALESCE(telescope, ''), COALESCE(instrument, ''),
	COALESCE(bin_x, 1), COALESCE(bin_y, 1), ccd_temp, gain, "offset",
	exposure, filter, source_count, COALESCE(content_hash, ''),
	created_at, validated_at, valid`

// MasterCriteria is the matching-criteria tuple that identifies a
// reusable master: equipment parameters plus the type-specific
// exposure (dark) or filter (flat). Exposed so a GUI or CLI can decide
// whether a session is ready to calibrate.
type MasterCriteria struct {
	CalType    string
	Telescope  string
	Instrument string
	BinX       int
	BinY       int
	Gain       *float64
	Offset     *float64
	CCDTemp    *float64
	Exposure   *float64 // darks
	Filter     *string  // flats
}

func scanMaster(row rowScanner) (*Master, error) {
	m := &Master{}
	var (
		sessionID             sql.NullString
		ccdTemp, gain, offset sql.NullFloat64
		exposure              sql.NullFloat64
		filter                sql.NullString
		validatedAt           sql.NullTime
	)

	err := row.Scan(
		&m.ID, &m.Path, &m.CalType, &sessionID,
		&m.Telescope, &m.Instrument, &m.BinX, &m.BinY,
		&ccdTemp, &gain, &offset, &exposure, &filter,
		&m.SourceCount, &m.ContentHash,
		&m.CreatedAt, &validatedAt, &m.Valid,
	)
	if err != nil {
		return nil, err
	}

	m.SessionID = strPtr(sessionID)
	m.CCDTemp = floatPtr(ccdTemp)
	m.Gain = floatPtr(gain)
	m.Offset = floatPtr(offset)
	m.Exposure = floatPtr(exposure)
	m.Filter = strPtr(filter)
	m.ValidatedAt = timePtr(validatedAt)

	return m, nil
}

func scanMasters(rows *sql.Rows) ([]*Master, error) {
	defer rows.Close()
	var masters []*Master
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan master: %w", err)
		}
		masters = append(masters, m)
	}
	return masters, rows.Err()
}

// InsertMaster inserts a master frame record
func (s *Store) InsertMaster(m *Master) error {
	_, err := s.db.Exec(`
		INSERT INTO masters (id, path, cal_type, session_id, telescope,
			instrument, bin_x, bin_y, ccd_temp, gain, "offset", exposure,
			filter, source_count, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Path, m.CalType, nullStr(m.SessionID), m.Telescope,
		m.Instrument, m.BinX, m.BinY, nullFloat(m.CCDTemp),
		nullFloat(m.Gain), nullFloat(m.Offset), nullFloat(m.Exposure),
		nullStr(m.Filter), m.SourceCount, m.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to insert master: %w", err)
	}
	return nil
}

// GetMasterByID retrieves a master record by ID
func (s *Store) GetMasterByID(id string) (*Master, error) {
	m, err := scanMaster(s.db.QueryRow(
		`SELECT `+masterColumns+` FROM masters WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get master: %w", err)
	}
	return m, nil
}

// FindMatchingMaster returns the most recent master matching the
// criteria tuple. Unlike session linking, CCD temperature is part of
// this match whenever both sides carry a value; a null on either side
// is a wildcard.
func (s *Store) FindMatchingMaster(c MasterCriteria) (*Master, error) {
	query := `
		SELECT ` + masterColumns + ` FROM masters
		WHERE cal_type = ? AND telescope = ? AND instrument = ?
		  AND bin_x = ? AND bin_y = ?
		  AND gain IS ? AND "offset" IS ?
		  AND (ccd_temp IS NULL OR ? IS NULL OR ccd_temp = ?)`
	args := []interface{}{
		c.CalType, c.Telescope, c.Instrument, c.BinX, c.BinY,
		nullFloat(c.Gain), nullFloat(c.Offset),
		nullFloat(c.CCDTemp), nullFloat(c.CCDTemp),
	}

	switch c.CalType {
	case FrameDark:
		query += ` AND exposure IS ?`
		args = append(args, nullFloat(c.Exposure))
	case FrameFlat:
		query += ` AND filter IS ?`
		args = append(args, nullStr(c.Filter))
	}

	query += ` ORDER BY created_at DESC LIMIT 1`

	m, err := scanMaster(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find matching master: %w", err)
	}
	return m, nil
}

// MasterForSession returns the most recent master built from a
// calibration session.
func (s *Store) MasterForSession(sessionID string) (*Master, error) {
	m, err := scanMaster(s.db.QueryRow(`
		SELECT `+masterColumns+` FROM masters
		WHERE session_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get master for session: %w", err)
	}
	return m, nil
}

// AllMasters returns every master record
func (s *Store) AllMasters() ([]*Master, error) {
	rows, err := s.db.Query(`SELECT ` + masterColumns + ` FROM masters ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query masters: %w", err)
	}
	return scanMasters(rows)
}

// SetMasterValidation records a validation pass over a master
func (s *Store) SetMasterValidation(id string, valid bool) error {
	_, err := s.db.Exec(`
		UPDATE masters SET valid = ?, validated_at = ? WHERE id = ?
	`, valid, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set master validation: %w", err)
	}
	return nil
}

// DeleteMaster removes a master record (the file is the caller's
// responsibility).
func (s *Store) DeleteMaster(id string) error {
	_, err := s.db.Exec(`DELETE FROM masters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete master: %w", err)
	}
	return nil
}

// UnreferencedMastersOlderThan returns masters created before cutoff
// whose source session is no longer referenced by any light session.
// These are the only masters retention cleanup may remove.
func (s *Store) UnreferencedMastersOlderThan(cutoff time.Time) ([]*Master, error) {
	rows, err := s.db.Query(`
		SELECT `+masterColumns+` FROM masters
		WHERE created_at < ?
		  AND (session_id IS NULL OR session_id NOT IN (
			SELECT bias_session FROM sessions WHERE bias_session IS NOT NULL
			UNION
			SELECT dark_session FROM sessions WHERE dark_session IS NOT NULL
			UNION
			SELECT flat_session FROM sessions WHERE flat_session IS NOT NULL
		  ))
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreferenced masters: %w", err)
	}
	return scanMasters(rows)
}
