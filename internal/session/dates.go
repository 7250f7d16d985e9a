package session

import (
	"time"
)

var nightLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseNight(value string) (time.Time, bool) {
	for _, layout := range nightLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SameObservingNight reports whether two capture timestamps belong to
// the same observing session: their absolute difference is at most 12
// hours. This is the loose comparison used in reporting; session
// partitioning and linking compare normalized date strings instead.
func SameObservingNight(a, b string) bool {
	ta, okA := parseNight(a)
	tb, okB := parseNight(b)
	if !okA || !okB {
		return false
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 12*time.Hour
}
