package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleetalert/internal/schedule"
)

// Config is the resolved engine configuration. It is built once at
// startup with every default applied and validated; downstream code never
// re-applies fallback logic.
type Config struct {
	Timezone string         `yaml:"timezone"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Hours    HoursConfig    `yaml:"working_hours"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Email    EmailConfig    `yaml:"email"`
	SMS      SMSConfig      `yaml:"sms"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WindowConfig is a working-hours span in decimal hours (8.5 == 08:30),
// inclusive at both ends.
type WindowConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// Window converts the span into the schedule's representation.
func (w WindowConfig) Window() schedule.Window {
	return schedule.Window{Start: w.Start, End: w.End}
}

type HoursConfig struct {
	Weekday  WindowConfig `yaml:"weekday"`
	Saturday WindowConfig `yaml:"saturday"`
}

type AlertsConfig struct {
	// EscalationStreak is the number of consecutive out-of-range
	// readings required before a temperature alert is raised.
	EscalationStreak int `yaml:"escalation_streak"`

	// MaxDetailedEntries caps the detailed lines per rendered batch;
	// the rest collapses into a "+K more" summary.
	MaxDetailedEntries int `yaml:"max_detailed_entries"`

	// HistoryRetention bounds the persisted dispatch history.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// StreakMaxIdle drops in-memory streaks for channels that stopped
	// reporting.
	StreakMaxIdle time.Duration `yaml:"streak_max_idle"`
}

// RecipientsConfig routes a transport's messages, with optional
// per-alert-type overrides of the default list.
type RecipientsConfig struct {
	Default     []string `yaml:"default"`
	Connection  []string `yaml:"connection"`
	Temperature []string `yaml:"temperature"`
}

// ForConnection resolves the connection-alert recipient list.
func (r RecipientsConfig) ForConnection() []string {
	if len(r.Connection) > 0 {
		return r.Connection
	}
	return r.Default
}

// ForTemperature resolves the temperature-alert recipient list.
func (r RecipientsConfig) ForTemperature() []string {
	if len(r.Temperature) > 0 {
		return r.Temperature
	}
	return r.Default
}

type EmailConfig struct {
	Enabled    bool             `yaml:"enabled"`
	URL        string           `yaml:"url"` // shoutrrr smtp URL
	Recipients RecipientsConfig `yaml:"recipients"`
}

type SMSConfig struct {
	Enabled        bool             `yaml:"enabled"`
	ModemURL       string           `yaml:"modem_url"`
	Recipients     RecipientsConfig `yaml:"recipients"`
	CharBudget     int              `yaml:"char_budget"`
	SendTimeout    time.Duration    `yaml:"send_timeout"`
	TokenTimeout   time.Duration    `yaml:"token_timeout"`
	SendBackoff    []time.Duration  `yaml:"send_backoff"`
	NetworkRetries int              `yaml:"network_retries"`
	NetworkBackoff time.Duration    `yaml:"network_backoff"`
	RecipientDelay time.Duration    `yaml:"recipient_delay"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Timezone: "America/Argentina/Buenos_Aires",
		Server:   ServerConfig{Port: "9080"},
		Database: DatabaseConfig{Path: "fleetalert.db"},
		Logging:  LoggingConfig{Level: "info"},
		Hours: HoursConfig{
			Weekday:  WindowConfig{Start: 8.5, End: 18.5},
			Saturday: WindowConfig{Start: 8.5, End: 14.5},
		},
		Alerts: AlertsConfig{
			EscalationStreak:   3,
			MaxDetailedEntries: 3,
			HistoryRetention:   90 * 24 * time.Hour,
			StreakMaxIdle:      24 * time.Hour,
		},
		SMS: SMSConfig{
			CharBudget:     480,
			SendTimeout:    15 * time.Second,
			TokenTimeout:   5 * time.Second,
			SendBackoff:    []time.Duration{10 * time.Second, 7 * time.Second},
			NetworkRetries: 2,
			NetworkBackoff: 3 * time.Second,
			RecipientDelay: 2 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of the defaults and validates
// the result. An empty path returns validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the startup-fatal configuration rules. Everything
// else degrades at dispatch time into not_configured/no_recipients
// results.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	for name, w := range map[string]WindowConfig{
		"weekday":  c.Hours.Weekday,
		"saturday": c.Hours.Saturday,
	} {
		if w.Start < 0 || w.End > 24 || w.Start > w.End {
			return fmt.Errorf("invalid %s working hours %.2f-%.2f", name, w.Start, w.End)
		}
	}
	if c.Alerts.EscalationStreak <= 0 {
		return fmt.Errorf("escalation_streak must be positive")
	}
	if c.Alerts.MaxDetailedEntries <= 0 {
		return fmt.Errorf("max_detailed_entries must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Email.Enabled && c.Email.URL == "" {
		return fmt.Errorf("email enabled but no url configured")
	}
	if c.SMS.Enabled && c.SMS.ModemURL == "" {
		return fmt.Errorf("sms enabled but no modem_url configured")
	}
	return nil
}
