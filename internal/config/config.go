// Package config provides YAML-based configuration loading for Porterline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Porterline configuration, loaded from config.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Floors   []string       `yaml:"floors"`
	Slack    SlackConfig    `yaml:"slack"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ServerConfig holds settings for the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DispatchConfig holds the timing knobs for the dispatch engine. All
// intervals and timeouts are in seconds except where the field name says
// otherwise; the rolling-average recompute takes a 5-field cron expression.
type DispatchConfig struct {
	AutoAssignIntervalSeconds int    `yaml:"auto_assign_interval_seconds"`
	AcceptanceTimeoutSeconds  int    `yaml:"acceptance_timeout_seconds"`
	PresenceIntervalSeconds   int    `yaml:"presence_interval_seconds"`
	HeartbeatTimeoutSeconds   int    `yaml:"heartbeat_timeout_seconds"`
	BreakLimitMinutes         int    `yaml:"break_limit_minutes"`
	CycleAlertIntervalSeconds int    `yaml:"cycle_alert_interval_seconds"`
	AverageSchedule           string `yaml:"average_schedule"`
	AverageSampleSize         int    `yaml:"average_sample_size"`
	OveragePercent            int    `yaml:"overage_percent"`
	PctAutocloseMinutes       int    `yaml:"pct_autoclose_minutes"`
}

// SlackConfig enables forwarding of dispatch alerts to a Slack channel.
// Both fields empty disables the notifier.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "porterline"
	}
	if c.Database.Database == "" {
		c.Database.Database = "porterline"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	d := &c.Dispatch
	if d.AutoAssignIntervalSeconds == 0 {
		d.AutoAssignIntervalSeconds = 30
	}
	if d.AcceptanceTimeoutSeconds == 0 {
		d.AcceptanceTimeoutSeconds = 120
	}
	if d.PresenceIntervalSeconds == 0 {
		d.PresenceIntervalSeconds = 30
	}
	if d.HeartbeatTimeoutSeconds == 0 {
		d.HeartbeatTimeoutSeconds = 120
	}
	if d.BreakLimitMinutes == 0 {
		d.BreakLimitMinutes = 30
	}
	if d.CycleAlertIntervalSeconds == 0 {
		d.CycleAlertIntervalSeconds = 15
	}
	if d.AverageSchedule == "" {
		d.AverageSchedule = "*/5 * * * *"
	}
	if d.AverageSampleSize == 0 {
		d.AverageSampleSize = 50
	}
	if d.OveragePercent == 0 {
		d.OveragePercent = 50
	}
	if d.PctAutocloseMinutes == 0 {
		d.PctAutocloseMinutes = 10
	}

	if len(c.Floors) == 0 {
		c.Floors = []string{"1", "2", "3", "4", "5"}
	}
}

// validate checks for invalid or inconsistent settings.
func (c *Config) validate() error {
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("config: invalid database port %d", c.Database.Port)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	d := c.Dispatch
	if d.AcceptanceTimeoutSeconds < d.AutoAssignIntervalSeconds {
		return fmt.Errorf("config: acceptance_timeout_seconds (%d) must not be shorter than auto_assign_interval_seconds (%d)",
			d.AcceptanceTimeoutSeconds, d.AutoAssignIntervalSeconds)
	}
	if d.OveragePercent < 0 {
		return fmt.Errorf("config: overage_percent must not be negative")
	}
	if (c.Slack.Token == "") != (c.Slack.Channel == "") {
		return fmt.Errorf("config: slack requires both token and channel")
	}
	return nil
}

// Duration helpers so callers don't repeat unit conversions.

func (d DispatchConfig) AutoAssignInterval() time.Duration {
	return time.Duration(d.AutoAssignIntervalSeconds) * time.Second
}

func (d DispatchConfig) AcceptanceTimeout() time.Duration {
	return time.Duration(d.AcceptanceTimeoutSeconds) * time.Second
}

func (d DispatchConfig) PresenceInterval() time.Duration {
	return time.Duration(d.PresenceIntervalSeconds) * time.Second
}

func (d DispatchConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(d.HeartbeatTimeoutSeconds) * time.Second
}

func (d DispatchConfig) BreakLimit() time.Duration {
	return time.Duration(d.BreakLimitMinutes) * time.Minute
}

func (d DispatchConfig) CycleAlertInterval() time.Duration {
	return time.Duration(d.CycleAlertIntervalSeconds) * time.Second
}

func (d DispatchConfig) PctAutocloseDelay() time.Duration {
	return time.Duration(d.PctAutocloseMinutes) * time.Minute
}
