package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/qbtrules/qbtrules/internal/config"
	"github.com/qbtrules/qbtrules/internal/logging"
)

var (
	configFile string
	rulesFile  string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "qbtrules",
	Short: "Declarative rules automation for qBittorrent",
	Long: `qbtrules evaluates declarative YAML rules against your torrents and
applies matching actions: tagging, categorizing, throttling, stopping,
or deleting. Run locally with 'run', or as a service with 'serve'.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "rules file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig merges the config file with the persistent flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if rulesFile != "" {
		cfg.RulesFile = rulesFile
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, nil
}

func newLogger(cfg *config.ServiceConfig) (zerolog.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}
