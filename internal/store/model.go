package store

import (
	"database/sql"
	"time"
)

// Frame types as normalized from FITS headers
const (
	FrameLight = "LIGHT"
	FrameDark  = "DARK"
	FrameFlat  = "FLAT"
	FrameBias  = "BIAS"
)

// Calibration session object names. A session whose object is one of
// these is a calibration session and never carries cross-references to
// other sessions.
const (
	SessionBias = "Bias"
	SessionDark = "Dark"
	SessionFlat = "Flat"
)

// SessionObjectForFrame maps a calibration frame type to its session
// object name ("" for lights).
func SessionObjectForFrame(frameType string) string {
	switch frameType {
	case FrameBias:
		return SessionBias
	case FrameDark:
		return SessionDark
	case FrameFlat:
		return SessionFlat
	}
	return ""
}

// File is one astronomical exposure record
type File struct {
	ID             string
	Path           string
	FrameType      string
	Object         string
	DateObs        string // capture timestamp as recorded in the header
	Date           string // observing date, day granularity (YYYY-MM-DD)
	Exposure       float64
	BinX           int
	BinY           int
	CCDTemp        *float64
	Gain           *float64
	Offset         *float64
	Filter         *string
	Telescope      string
	Instrument     string
	ContentHash    string
	SizeBytes      int64
	SessionID      *string
	Calibrated     bool
	CalibratedPath string
	CalibratedAt   *time.Time
	Deleted        bool

	// Optional quality metrics, set by an external analyzer
	FWHM         *float64
	Eccentricity *float64
	HFR          *float64
	SNR          *float64
	StarCount    *int
	ImageScale   *float64

	RegisteredAt time.Time
}

// Session is a cohesive group of files sharing acquisition parameters
type Session struct {
	ID         string
	Object     string
	Date       string
	Telescope  string
	Instrument string
	Exposure   float64
	BinX       int
	BinY       int
	CCDTemp    *float64
	Gain       *float64
	Offset     *float64
	Filter     *string

	// Cross-references to calibration sessions; populated only for
	// light sessions, and never overwritten once set
	BiasSession *string
	DarkSession *string
	FlatSession *string

	// Set for sessions synthesized by workflow automation
	AutoCal    bool
	SourceBias *string
	SourceDark *string
	SourceFlat *string

	// Aggregate quality means across member files
	FWHMAvg         *float64
	EccentricityAvg *float64
	HFRAvg          *float64
	SNRAvg          *float64
	StarCountAvg    *float64
	ImageScaleAvg   *float64

	CreatedAt time.Time
}

// IsCalibration reports whether this is a bias/dark/flat session
func (s *Session) IsCalibration() bool {
	switch s.Object {
	case SessionBias, SessionDark, SessionFlat:
		return true
	}
	return false
}

// Master is a derived calibration artifact record
type Master struct {
	ID          string
	Path        string
	CalType     string // BIAS / DARK / FLAT
	SessionID   *string
	Telescope   string
	Instrument  string
	BinX        int
	BinY        int
	CCDTemp     *float64
	Gain        *float64
	Offset      *float64
	Exposure    *float64 // dark only
	Filter      *string  // flat only
	SourceCount int
	ContentHash string
	CreatedAt   time.Time
	ValidatedAt *time.Time
	Valid       bool
}

// nullable binding helpers

func nullStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}
