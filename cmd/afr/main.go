package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/franz/astrofiler/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "afr",
		Short: "AstroFiler - organize and calibrate astronomical exposures",
		Long: `afr (AstroFiler) organizes a directory of FITS exposures into a
catalogued repository: files are registered with their acquisition
metadata, grouped into observing sessions, matched with calibration
data, combined into master frames, and finally calibrated.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/astrofiler.yaml)")
	rootCmd.PersistentFlags().String("db", "astrofiler.db", "repository database file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if err := loadConfigFile(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}

// loadConfigFile wires viper to the config file and environment. An
// explicitly named file must load; with the default search paths a
// missing file is fine but a broken one is not.
func loadConfigFile(path string) error {
	if path != "" {
		// Use config file from the flag
		viper.SetConfigFile(path)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("astrofiler")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("AFR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
	return nil
}

// setupError marks failures of configuration or environment setup,
// distinguished from processing failures by exit code.
type setupError struct {
	err error
}

func (e setupError) Error() string { return e.err.Error() }
func (e setupError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code: 2 for
// config/setup failures, 1 otherwise.
func exitCode(err error) int {
	var se setupError
	if errors.As(err, &se) {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
