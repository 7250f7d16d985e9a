package master

import (
	"fmt"
	"os"
	"time"

	"github.com/franz/astrofiler/internal/fits"
	"github.com/franz/astrofiler/internal/progress"
	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
)

// ValidateResult represents master validation results
type ValidateResult struct {
	Checked int
	Valid   int
	Invalid int
}

// CleanupResult represents retention cleanup results
type CleanupResult struct {
	Removed        int
	BytesReclaimed int64
	Errors         []error
}

// ValidateMasters re-checks every master record against its file on
// disk: the file must exist, its content hash must match the recorded
// one, and it must still parse as a valid image. Each outcome is
// written back to the record.
func (b *Builder) ValidateMasters(cb progress.Func) (*ValidateResult, error) {
	masters, err := b.store.AllMasters()
	if err != nil {
		return nil, err
	}
	if cb == nil {
		cb = progress.Nop
	}

	result := &ValidateResult{}

	for i, m := range masters {
		result.Checked++
		reason := b.checkMaster(m)
		valid := reason == ""

		if valid {
			result.Valid++
		} else {
			result.Invalid++
			util.WarnLog("Master %s invalid: %s", m.Path, reason)
			b.logger.Log(&report.Event{
				Level:    report.LevelWarning,
				Event:    report.EventValidate,
				MasterID: m.ID,
				Path:     m.Path,
				Reason:   reason,
			})
		}

		if err := b.store.SetMasterValidation(m.ID, valid); err != nil {
			return result, err
		}

		if !cb(i+1, len(masters), m.CalType) {
			return result, nil
		}
	}

	return result, nil
}

// checkMaster returns an empty string for a healthy master, otherwise
// the failure reason.
func (b *Builder) checkMaster(m *store.Master) string {
	if !util.FileExists(m.Path) {
		return "file missing"
	}
	hash, err := util.ContentHash(m.Path)
	if err != nil {
		return fmt.Sprintf("unreadable: %v", err)
	}
	if m.ContentHash != "" && hash != m.ContentHash {
		return "content hash mismatch"
	}
	if _, err := fits.OpenHeader(m.Path); err != nil {
		return fmt.Sprintf("corrupt: %v", err)
	}
	return ""
}

// CleanupMasters removes masters older than retentionDays whose
// source session no longer backs any light session. Masters still
// referenced through a session link are never touched, regardless of
// age.
func (b *Builder) CleanupMasters(retentionDays int) (*CleanupResult, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %d days", retentionDays)
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	masters, err := b.store.UnreferencedMastersOlderThan(cutoff)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}

	for _, m := range masters {
		size, _ := util.FileSize(m.Path)

		if b.cfg.DryRun {
			util.InfoLog("Dry run: would remove %s (created %s)",
				m.Path, m.CreatedAt.Format("2006-01-02"))
			result.Removed++
			result.BytesReclaimed += size
			continue
		}

		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("failed to remove %s: %w", m.Path, err))
			continue
		}
		if err := b.store.DeleteMaster(m.ID); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		b.logger.Log(&report.Event{
			Level:    report.LevelInfo,
			Event:    report.EventCleanup,
			MasterID: m.ID,
			Path:     m.Path,
		})
		result.Removed++
		result.BytesReclaimed += size
	}

	return result, nil
}
