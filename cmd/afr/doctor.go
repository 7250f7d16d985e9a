package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure afr can operate correctly.

This command checks:
- The external stacking tool (optional, mean fallback covers it)
- Database accessibility and integrity
- SQLite version
- Data directory readability
- Masters directory writability
- Disk space availability

Use this command to troubleshoot issues before running afr operations.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String("data", "", "Data directory to check (optional)")
	doctorCmd.Flags().String("masters-dir", "", "Masters directory to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== AFR Doctor - System Diagnostics ===")
	util.InfoLog("")

	results := []checkResult{}

	// 1. Check the external stacking tool
	results = append(results, checkStackTool(GetConfigString("stack_tool", "")))

	// 2. Check SQLite
	results = append(results, checkSQLite())

	// 3. Check database file
	dbPath := viper.GetString("db")
	results = append(results, checkDatabase(dbPath))

	// 4. Check data directory
	dataPath, _ := cmd.Flags().GetString("data")
	if dataPath == "" {
		dataPath = viper.GetString("data")
	}
	if dataPath != "" {
		results = append(results, checkDataDirectory(dataPath))
	}

	// 5. Check masters directory
	mastersPath, _ := cmd.Flags().GetString("masters-dir")
	if mastersPath == "" {
		mastersPath = GetConfigString("masters_dir", "masters")
	}
	results = append(results, checkMastersDirectory(mastersPath))

	// 6. Check disk space
	if dataPath != "" {
		results = append(results, checkDiskSpace(dataPath, "data"))
	}
	results = append(results, checkDiskSpace(mastersPath, "masters"))

	// Print results
	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false

	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	// Summary
	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Please resolve errors before running afr.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed! System is ready for afr operations.")
	}

	return nil
}

// checkStackTool verifies the configured stacking tool responds.
// No tool configured is only a warning; the mean fallback always works.
func checkStackTool(tool string) checkResult {
	if tool == "" {
		return checkResult{
			name:    "Stacking tool (optional)",
			warning: true,
			message: "not configured (masters use the simple-mean fallback)",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, "--version")
	if err := cmd.Run(); err != nil {
		return checkResult{
			name:    "Stacking tool (optional)",
			warning: true,
			message: fmt.Sprintf("%s not runnable (%v); masters use the simple-mean fallback", tool, err),
		}
	}

	return checkResult{
		name:    "Stacking tool (optional)",
		message: tool,
	}
}

// checkSQLite verifies SQLite version
func checkSQLite() checkResult {
	// modernc.org/sqlite is embedded, no external dependency to probe
	version := store.SQLiteVersion()
	if version == "" {
		return checkResult{
			name:    "SQLite",
			error:   true,
			message: "unable to determine version",
		}
	}

	return checkResult{
		name:    "SQLite",
		message: fmt.Sprintf("version %s (built-in)", version),
	}
}

// checkDatabase verifies database file accessibility
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{
			name:    "Database",
			warning: true,
			message: "no database path specified (use --db flag or config)",
		}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{
				name:    "Database",
				message: fmt.Sprintf("%s (will be created on first run)", dbPath),
			}
		}
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", dbPath, err),
		}
	}

	if !info.Mode().IsRegular() {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("%s is not a regular file", dbPath),
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("cannot open %s: %v", dbPath, err),
		}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{
			name:    "Database",
			error:   true,
			message: fmt.Sprintf("integrity check failed: %v", err),
		}
	}

	counts, _ := db.FileCountsByType()
	total := 0
	for _, n := range counts {
		total += n
	}

	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%d files)", dbPath, total),
	}
}

// checkDataDirectory verifies the data directory is readable
func checkDataDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{
			name:    "Data directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Data directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{
			name:    "Data directory",
			error:   true,
			message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}

	return checkResult{
		name:    "Data directory",
		message: fmt.Sprintf("%s (%d entries)", path, len(entries)),
	}
}

// checkMastersDirectory verifies the masters directory is writable
func checkMastersDirectory(path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Created lazily by the builder; just note it
			return checkResult{
				name:    "Masters directory",
				message: fmt.Sprintf("%s (will be created on first build)", path),
			}
		}
		return checkResult{
			name:    "Masters directory",
			error:   true,
			message: fmt.Sprintf("cannot access %s: %v", path, err),
		}
	}

	if !info.IsDir() {
		return checkResult{
			name:    "Masters directory",
			error:   true,
			message: fmt.Sprintf("%s is not a directory", path),
		}
	}

	testFile := filepath.Join(path, ".afr_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{
			name:    "Masters directory",
			error:   true,
			message: fmt.Sprintf("cannot write to %s: %v", path, err),
		}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{
		name:    "Masters directory",
		message: fmt.Sprintf("%s (writable)", path),
	}
}

// checkDiskSpace verifies available disk space
func checkDiskSpace(path string, label string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{
			name:    fmt.Sprintf("Disk space (%s)", label),
			warning: true,
			message: fmt.Sprintf("cannot determine disk space: %v", err),
		}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	availGB := float64(availBytes) / (1024 * 1024 * 1024)
	usedPercent := float64(usedBytes) / float64(totalBytes) * 100

	// Warn if less than 10GB available or >90% used
	warning := false
	warningMsg := ""
	if availGB < 10 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    fmt.Sprintf("Disk space (%s)", label),
		warning: warning,
		message: fmt.Sprintf("%.1f GB available%s", availGB, warningMsg),
	}
}
