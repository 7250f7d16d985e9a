package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"setup error", setupError{errors.New("failed to open database")}, 2},
		{"wrapped setup error", fmt.Errorf("ingest: %w", setupError{errors.New("bad db")}), 2},
		{"processing error", errors.New("stack failed"), 1},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("%s: expected exit code %d, got %d", c.name, c.want, got)
		}
	}
}

func TestLoadConfigFile_ExplicitCorrupt(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("data_dir: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := loadConfigFile(path); err == nil {
		t.Fatal("expected error for unparseable explicit config file")
	}
}

func TestLoadConfigFile_ExplicitMissing(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "nonexistent.yaml")
	if err := loadConfigFile(path); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfigFile_ImplicitMissing(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	// No config file anywhere on the search path is not an error
	if err := loadConfigFile(""); err != nil {
		t.Fatalf("unexpected error without a config file: %v", err)
	}
}

func TestLoadConfigFile_ExplicitValid(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "astrofiler.yaml")
	if err := os.WriteFile(path, []byte("data_dir: /srv/astro\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := loadConfigFile(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := viper.GetString("data_dir"); got != "/srv/astro" {
		t.Errorf("expected config value applied, got %q", got)
	}
}
