package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/schedule2cal/internal/calendar"
	"github.com/jo-hoe/schedule2cal/internal/common"
	appcfg "github.com/jo-hoe/schedule2cal/internal/config"
	"github.com/jo-hoe/schedule2cal/internal/conversion"
	"github.com/jo-hoe/schedule2cal/internal/conversion/backend"
	"github.com/jo-hoe/schedule2cal/internal/conversion/mock"
	"github.com/jo-hoe/schedule2cal/internal/history"
	"github.com/jo-hoe/schedule2cal/internal/logging"
)

// Persistent flags
var (
	configFlag     string
	backendURLFlag string
	logLevelFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "schedule2cal",
	Short: "Turn a photo of a schedule into a calendar file",
	Long: `schedule2cal sends an image of a printed schedule to a conversion service
and saves the returned calendar as schedule.ics.

Examples:
  schedule2cal convert ./timetable.png
  schedule2cal convert --pick --output-dir ~/Downloads
  schedule2cal serve --config config.yaml
  schedule2cal inspect schedule.ics --weeks 4
  schedule2cal history --limit 10`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to config file (default: $"+common.EnvConfigPath+" or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendURLFlag, "backend-url", "", "Conversion service base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(convertCmd, serveCmd, inspectCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlagOverrides routes persistent flags through the environment so config
// validation sees them.
func applyFlagOverrides() error {
	if v := strings.TrimSpace(backendURLFlag); v != "" {
		if err := os.Setenv(common.EnvBackendURL, v); err != nil {
			return fmt.Errorf("apply --backend-url: %w", err)
		}
	}
	if v := strings.TrimSpace(logLevelFlag); v != "" {
		if err := os.Setenv(common.EnvLogLevel, v); err != nil {
			return fmt.Errorf("apply --log-level: %w", err)
		}
	}
	return nil
}

// loadConfig loads and validates the config and initializes logging.
func loadConfig() (*appcfg.Config, zerolog.Logger, error) {
	if err := applyFlagOverrides(); err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg, err := appcfg.Load(configFlag)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.Init(cfg.Log.Level), nil
}

// newConversion builds the configured conversion service provider.
func newConversion(cfg *appcfg.Config) (conversion.Service, error) {
	switch cfg.Backend.Provider {
	case "http":
		return backend.New(cfg.Backend), nil
	case "mock":
		return mock.New(cfg.Backend.Mock), nil
	default:
		return nil, fmt.Errorf("unsupported backend provider %q", cfg.Backend.Provider)
	}
}

// openHistory opens the history store when enabled. The returned store is nil otherwise.
func openHistory(cfg *appcfg.Config) (*history.SQLiteStore, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.NewSQLiteStore(cfg.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// strictValidator returns the response check used when client.strict is on.
func strictValidator(cfg *appcfg.Config) func([]byte) error {
	if !cfg.Client.Strict {
		return nil
	}
	return calendar.Validate
}
