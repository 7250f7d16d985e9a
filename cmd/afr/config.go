package main

import (
	"fmt"

	"github.com/franz/astrofiler/internal/report"
	"github.com/franz/astrofiler/internal/store"
	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/viper"
)

// GetConfigString retrieves a string config value with proper precedence:
// 1. Command-line flag (if set)
// 2. Environment variable (AFR_*)
// 3. Config file
// 4. Default value
func GetConfigString(key string, defaultValue string) string {
	val := viper.GetString(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// GetConfigInt retrieves an int config value with proper precedence
func GetConfigInt(key string, defaultValue int) int {
	val := viper.GetInt(key)
	if val == 0 {
		return defaultValue
	}
	return val
}

// GetConfigStringSlice retrieves a string slice config value
func GetConfigStringSlice(key string) []string {
	return viper.GetStringSlice(key)
}

// applyLogLevels configures the console logger from global flags
func applyLogLevels() (verbose, quiet bool) {
	verbose = viper.GetBool("verbose")
	quiet = viper.GetBool("quiet")
	util.SetVerbose(verbose)
	util.SetQuiet(quiet)
	return verbose, quiet
}

// openStore opens the repository database named by the global flag
func openStore() (*store.Store, error) {
	dbPath := viper.GetString("db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, setupError{fmt.Errorf("failed to open database: %w", err)}
	}
	return db, nil
}

// newEventLogger creates the JSONL event logger for a command run.
// Failures degrade to a null logger with a warning.
func newEventLogger(verbose, quiet bool) *report.EventLogger {
	logLevel := report.LevelInfo
	if quiet {
		logLevel = report.LevelWarning
	} else if verbose {
		logLevel = report.LevelDebug
	}

	logger, err := report.NewEventLogger(GetConfigString("artifacts", "artifacts"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return logger
}
