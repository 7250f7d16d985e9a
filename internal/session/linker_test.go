package session

import (
	"context"
	"testing"

	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
)

func str(v string) *string { return &v }

func addSession(t *testing.T, s *store.Store, sess *store.Session) *store.Session {
	t.Helper()
	if sess.BinX == 0 {
		sess.BinX = 1
	}
	if sess.BinY == 0 {
		sess.BinY = 1
	}
	if err := s.InsertSession(sess); err != nil {
		t.Fatalf("failed to insert session %s: %v", sess.ID, err)
	}
	return sess
}

func TestLinkerPicksMostRecentPerType(t *testing.T) {
	s := openTestStore(t)

	addSession(t, s, &store.Session{ID: "bias-old", Object: store.SessionBias,
		Date: "2024-01-01", Telescope: "T1", Instrument: "C1"})
	addSession(t, s, &store.Session{ID: "bias-new", Object: store.SessionBias,
		Date: "2024-02-01", Telescope: "T1", Instrument: "C1"})
	addSession(t, s, &store.Session{ID: "dark-120", Object: store.SessionDark,
		Date: "2024-01-15", Telescope: "T1", Instrument: "C1", Exposure: 120})
	addSession(t, s, &store.Session{ID: "dark-300", Object: store.SessionDark,
		Date: "2024-02-15", Telescope: "T1", Instrument: "C1", Exposure: 300})
	addSession(t, s, &store.Session{ID: "flat-r", Object: store.SessionFlat,
		Date: "2024-02-20", Telescope: "T1", Instrument: "C1", Filter: str("R")})
	addSession(t, s, &store.Session{ID: "flat-g", Object: store.SessionFlat,
		Date: "2024-02-21", Telescope: "T1", Instrument: "C1", Filter: str("G")})

	addSession(t, s, &store.Session{ID: "light-1", Object: "M31",
		Date: "2024-03-01", Telescope: "T1", Instrument: "C1",
		Exposure: 120, Filter: str("R")})

	l := NewLinker(&LinkerConfig{Store: s, Logger: report.NullLogger()})
	result, err := l.LinkSessions(context.Background(), nil)
	if err != nil {
		t.Fatalf("linking failed: %v", err)
	}
	if result.LinksCreated != 3 {
		t.Errorf("expected 3 links, got %d", result.LinksCreated)
	}

	got, err := s.GetSessionByID("light-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.BiasSession == nil || *got.BiasSession != "bias-new" {
		t.Errorf("expected bias-new, got %v", got.BiasSession)
	}
	if got.DarkSession == nil || *got.DarkSession != "dark-120" {
		t.Errorf("expected dark-120 (exposure match), got %v", got.DarkSession)
	}
	if got.FlatSession == nil || *got.FlatSession != "flat-r" {
		t.Errorf("expected flat-r (filter match), got %v", got.FlatSession)
	}
}

func TestLinkerNeverOverwrites(t *testing.T) {
	s := openTestStore(t)

	addSession(t, s, &store.Session{ID: "dark-old", Object: store.SessionDark,
		Date: "2024-01-01", Telescope: "T1", Instrument: "C1", Exposure: 120})
	addSession(t, s, &store.Session{ID: "light-1", Object: "M31",
		Date: "2024-03-01", Telescope: "T1", Instrument: "C1", Exposure: 120})

	l := NewLinker(&LinkerConfig{Store: s, Logger: report.NullLogger()})
	if _, err := l.LinkSessions(context.Background(), nil); err != nil {
		t.Fatalf("first link failed: %v", err)
	}

	// A newer matching dark session appears; re-running must keep the
	// original reference
	addSession(t, s, &store.Session{ID: "dark-newer", Object: store.SessionDark,
		Date: "2024-02-01", Telescope: "T1", Instrument: "C1", Exposure: 120})

	if _, err := l.LinkSessions(context.Background(), nil); err != nil {
		t.Fatalf("second link failed: %v", err)
	}

	got, err := s.GetSessionByID("light-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.DarkSession == nil || *got.DarkSession != "dark-old" {
		t.Errorf("expected dark-old to be preserved, got %v", got.DarkSession)
	}
}

func TestLinkerIgnoresFutureAndForeignSessions(t *testing.T) {
	s := openTestStore(t)

	// Dated after the light session: not a candidate
	addSession(t, s, &store.Session{ID: "bias-future", Object: store.SessionBias,
		Date: "2024-06-01", Telescope: "T1", Instrument: "C1"})
	// Different telescope: not a candidate
	addSession(t, s, &store.Session{ID: "bias-other", Object: store.SessionBias,
		Date: "2024-01-01", Telescope: "T2", Instrument: "C1"})

	addSession(t, s, &store.Session{ID: "light-1", Object: "M31",
		Date: "2024-03-01", Telescope: "T1", Instrument: "C1", Exposure: 120})

	l := NewLinker(&LinkerConfig{Store: s, Logger: report.NullLogger()})
	result, err := l.LinkSessions(context.Background(), nil)
	if err != nil {
		t.Fatalf("linking failed: %v", err)
	}
	if result.LinksCreated != 0 {
		t.Errorf("expected no links, got %d", result.LinksCreated)
	}

	got, _ := s.GetSessionByID("light-1")
	if got.BiasSession != nil {
		t.Errorf("expected nil bias reference, got %v", *got.BiasSession)
	}
}

func TestLinkerSkipsPrecalibrated(t *testing.T) {
	s := openTestStore(t)

	addSession(t, s, &store.Session{ID: "bias-1", Object: store.SessionBias,
		Date: "2024-01-01", Telescope: "iTelescope T68", Instrument: "C1"})
	addSession(t, s, &store.Session{ID: "light-1", Object: "M31",
		Date: "2024-03-01", Telescope: "iTelescope T68", Instrument: "C1"})

	l := NewLinker(&LinkerConfig{Store: s, Logger: report.NullLogger(),
		Precalibrated: []string{"itelescope", "seestar"}})
	result, err := l.LinkSessions(context.Background(), nil)
	if err != nil {
		t.Fatalf("linking failed: %v", err)
	}
	if result.Precalibrated != 1 {
		t.Errorf("expected 1 precalibrated skip, got %d", result.Precalibrated)
	}

	got, _ := s.GetSessionByID("light-1")
	if got.BiasSession != nil {
		t.Error("precalibrated session must not be linked")
	}
}

func TestSameObservingNight(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2024-01-01T22:00:00", "2024-01-02T04:00:00", true},
		{"2024-01-01T20:00:00", "2024-01-02T20:00:00", false},
		{"2024-01-01", "2024-01-01", true},
		{"2024-01-01", "2024-01-02", false},
		{"garbage", "2024-01-01", false},
	}
	for _, tt := range tests {
		if got := SameObservingNight(tt.a, tt.b); got != tt.want {
			t.Errorf("SameObservingNight(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
