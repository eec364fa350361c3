// Package config provides configuration management for the qbt-rules
// service: viper-backed service settings and yaml rule-document loading
// with optional hot reload.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig holds everything the serve/run commands need: qBittorrent
// connection, queue database, API server, and worker settings.
type ServiceConfig struct {
	QbtURL      string
	QbtUsername string
	QbtPassword string
	QbtTimeout  time.Duration

	RulesFile string

	DatabaseURL string

	Host   string
	Port   int
	APIKey string

	PollInterval time.Duration
	JobRetention time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration with CLI flags > environment > config file >
// defaults precedence. Secrets (qBittorrent password, API key) are
// environment-only and rejected when found in a config file.
func Load(configPath string) (*ServiceConfig, error) {
	v := viper.New()

	v.SetDefault("qbittorrent.url", "http://localhost:8080")
	v.SetDefault("qbittorrent.username", "admin")
	v.SetDefault("qbittorrent.timeout", "30s")
	v.SetDefault("rules_file", "rules.yaml")
	v.SetDefault("database.url", "sqlite://qbtrules.db")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8094)
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.job_retention", "168h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Bind environment variables with QBT_RULES_ prefix,
	// e.g. QBT_RULES_QBITTORRENT_URL, QBT_RULES_DATABASE_URL.
	v.SetEnvPrefix("QBT_RULES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v, configPath); err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{
		QbtURL:       v.GetString("qbittorrent.url"),
		QbtUsername:  v.GetString("qbittorrent.username"),
		QbtPassword:  v.GetString("qbittorrent.password"),
		QbtTimeout:   v.GetDuration("qbittorrent.timeout"),
		RulesFile:    v.GetString("rules_file"),
		DatabaseURL:  v.GetString("database.url"),
		Host:         v.GetString("server.host"),
		Port:         v.GetInt("server.port"),
		APIKey:       v.GetString("server.api_key"),
		PollInterval: v.GetDuration("worker.poll_interval"),
		JobRetention: v.GetDuration("worker.job_retention"),
		LogLevel:     v.GetString("log.level"),
		LogFormat:    v.GetString("log.format"),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *ServiceConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.QbtURL == "" {
		return fmt.Errorf("qbittorrent url is required")
	}
	if cfg.RulesFile == "" {
		return fmt.Errorf("rules_file is required")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.JobRetention <= 0 {
		return fmt.Errorf("worker job_retention must be positive, got %v", cfg.JobRetention)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets.
func validateNoSecretsInConfig(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	if fileHasKey(v, "qbittorrent.password") {
		return fmt.Errorf("qbittorrent password not allowed in config files (use QBT_RULES_QBITTORRENT_PASSWORD)")
	}
	if fileHasKey(v, "server.api_key") {
		return fmt.Errorf("api key not allowed in config files (use QBT_RULES_SERVER_API_KEY)")
	}
	return nil
}

// fileHasKey reports whether the key came from the config file itself
// rather than env or defaults.
func fileHasKey(v *viper.Viper, key string) bool {
	for _, k := range v.AllKeys() {
		if k == key && v.InConfig(key) {
			return true
		}
	}
	return false
}
