package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/store"
)

// ValidationError marks a file whose header cannot be turned into a
// record. These are never retried; the offending field and path are
// always carried for logging.
type ValidationError struct {
	Path  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s in %s: %s", e.Field, e.Path, e.Msg)
}

// dateObsLayouts are the DATE-OBS formats seen in the wild, most
// specific first.
var dateObsLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDateObs parses a FITS capture timestamp
func ParseDateObs(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateObsLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// DetectFrameType normalizes the IMAGETYP header to one of the four
// frame types, falling back to filename patterns when the header is
// absent or unrecognized.
func DetectFrameType(imageType, filename string) (string, bool) {
	if t, ok := matchFrameType(imageType); ok {
		return t, true
	}
	return matchFrameType(filepath.Base(filename))
}

func matchFrameType(s string) (string, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "light"), strings.Contains(s, "science"):
		return store.FrameLight, true
	case strings.Contains(s, "dark"):
		return store.FrameDark, true
	case strings.Contains(s, "flat"):
		return store.FrameFlat, true
	case strings.Contains(s, "bias"), strings.Contains(s, "zero"):
		return store.FrameBias, true
	}
	return "", false
}

// RecordFromHeader builds a file record from a FITS header. The record
// has no ID, hash or size yet; the caller fills those in.
func RecordFromHeader(path string, hdr *fits.Header) (*store.File, error) {
	frameType, ok := DetectFrameType(hdr.GetString("IMAGETYP"), path)
	if !ok {
		return nil, &ValidationError{Path: path, Field: "IMAGETYP",
			Msg: "frame type undeterminable from header or filename"}
	}

	dateRaw := hdr.GetString("DATE-OBS")
	if dateRaw == "" {
		return nil, &ValidationError{Path: path, Field: "DATE-OBS", Msg: "missing"}
	}
	captured, err := ParseDateObs(dateRaw)
	if err != nil {
		return nil, &ValidationError{Path: path, Field: "DATE-OBS", Msg: err.Error()}
	}

	exposure, ok := hdr.GetFloat("EXPTIME")
	if !ok {
		exposure, ok = hdr.GetFloat("EXPOSURE")
	}
	if !ok {
		return nil, &ValidationError{Path: path, Field: "EXPTIME", Msg: "missing"}
	}

	f := &store.File{
		Path:       path,
		FrameType:  frameType,
		Object:     hdr.GetString("OBJECT"),
		DateObs:    dateRaw,
		Date:       captured.Format("2006-01-02"),
		Exposure:   exposure,
		BinX:       1,
		BinY:       1,
		Telescope:  hdr.GetString("TELESCOP"),
		Instrument: hdr.GetString("INSTRUME"),
	}

	if v, ok := hdr.GetInt("XBINNING"); ok {
		f.BinX = v
	}
	if v, ok := hdr.GetInt("YBINNING"); ok {
		f.BinY = v
	}
	if v, ok := hdr.GetFloat("CCD-TEMP"); ok {
		f.CCDTemp = &v
	}
	if v, ok := hdr.GetFloat("GAIN"); ok {
		f.Gain = &v
	}
	if v, ok := hdr.GetFloat("OFFSET"); ok {
		f.Offset = &v
	}
	if v := hdr.GetString("FILTER"); v != "" {
		f.Filter = &v
	}

	return f, nil
}
