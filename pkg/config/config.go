package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig          `mapstructure:"server"`
	Redis         RedisConfig           `mapstructure:"redis"`
	Database      DatabaseConfig        `mapstructure:"database"`
	RateLimits    map[string]ScopeLimit `mapstructure:"rate_limits"`
	Blocking      BlockingConfig        `mapstructure:"blocking"`
	Risk          RiskConfig            `mapstructure:"risk"`
	Notifications NotificationsConfig   `mapstructure:"notifications"`
	Audit         AuditConfig           `mapstructure:"audit"`
	Security      SecurityConfig        `mapstructure:"security"`
}

// SecurityConfig extends the built-in inspection signature list. Entries
// are decoded by the waf package at startup.
type SecurityConfig struct {
	CustomSignatures []map[string]interface{} `mapstructure:"custom_signatures"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ScopeLimit is one row of the per-scope rate limit table.
type ScopeLimit struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// BlockingConfig holds the detector thresholds and per-reason block durations.
type BlockingConfig struct {
	DDoSThreshold          int `mapstructure:"ddos_threshold"`
	DDoSWindowSeconds      int `mapstructure:"ddos_window_seconds"`
	DDoSBlockSeconds       int `mapstructure:"ddos_block_seconds"`
	FailedLoginThreshold   int `mapstructure:"failed_login_threshold"`
	FailedLoginWindow      int `mapstructure:"failed_login_window_seconds"`
	FailedLoginBlock       int `mapstructure:"failed_login_block_seconds"`
	ExcessiveThreshold     int `mapstructure:"excessive_threshold"`
	ExcessiveWindowSeconds int `mapstructure:"excessive_window_seconds"`
	ExcessiveBlockSeconds  int `mapstructure:"excessive_block_seconds"`
}

type RiskConfig struct {
	HighThreshold     float64  `mapstructure:"high_threshold"`
	MediumThreshold   float64  `mapstructure:"medium_threshold"`
	VelocityPerMinute float64  `mapstructure:"velocity_per_minute"`
	HighRiskIPs       []string `mapstructure:"high_risk_ips"`
	LockSeconds       int      `mapstructure:"lock_seconds"`
	RebuildInterval   int      `mapstructure:"rebuild_interval_seconds"`
	AssessInterval    int      `mapstructure:"assess_interval_seconds"`
}

type NotificationsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	Topic   string `mapstructure:"topic"`
}

type AuditConfig struct {
	RecentBufferSize int `mapstructure:"recent_buffer_size"`
	QueueSize        int `mapstructure:"queue_size"`
}

var globalConfig Config

func Load(configPath string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Environment variables only.
	}

	if err := viper.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	setDefaultValues(&globalConfig)

	if err := globalConfig.Validate(); err != nil {
		return err
	}

	return nil
}

func GetConfig() *Config {
	return &globalConfig
}

// Validate rejects threshold and limit tables that cannot be enforced.
// A broken table is fatal at startup, never discovered at request time.
func (c *Config) Validate() error {
	for scope, limit := range c.RateLimits {
		if limit.Limit <= 0 {
			return fmt.Errorf("invalid rate limit for scope %q: limit must be positive", scope)
		}
		if limit.WindowSeconds <= 0 {
			return fmt.Errorf("invalid rate limit for scope %q: window_seconds must be positive", scope)
		}
	}
	if c.Risk.HighThreshold <= c.Risk.MediumThreshold {
		return fmt.Errorf("risk high_threshold (%v) must be greater than medium_threshold (%v)",
			c.Risk.HighThreshold, c.Risk.MediumThreshold)
	}
	if c.Risk.HighThreshold > 1 || c.Risk.MediumThreshold < 0 {
		return fmt.Errorf("risk thresholds must stay within [0,1]")
	}
	if c.Notifications.Enabled {
		if c.Notifications.Host == "" || c.Notifications.Port == "" || c.Notifications.Topic == "" {
			return fmt.Errorf("notifications enabled but host, port or topic is missing")
		}
	}
	return nil
}

func setDefaultValues(c *Config) {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RateLimits == nil {
		c.RateLimits = map[string]ScopeLimit{}
	}
	if _, ok := c.RateLimits["general"]; !ok {
		c.RateLimits["general"] = ScopeLimit{Limit: 100, WindowSeconds: 900}
	}
	if _, ok := c.RateLimits["auth"]; !ok {
		c.RateLimits["auth"] = ScopeLimit{Limit: 5, WindowSeconds: 900}
	}
	if _, ok := c.RateLimits["generation"]; !ok {
		c.RateLimits["generation"] = ScopeLimit{Limit: 10, WindowSeconds: 60}
	}

	b := &c.Blocking
	if b.DDoSThreshold == 0 {
		b.DDoSThreshold = 500
	}
	if b.DDoSWindowSeconds == 0 {
		b.DDoSWindowSeconds = 60
	}
	if b.DDoSBlockSeconds == 0 {
		b.DDoSBlockSeconds = 7200
	}
	if b.FailedLoginThreshold == 0 {
		b.FailedLoginThreshold = 10
	}
	if b.FailedLoginWindow == 0 {
		b.FailedLoginWindow = 900
	}
	if b.FailedLoginBlock == 0 {
		b.FailedLoginBlock = 1800
	}
	if b.ExcessiveThreshold == 0 {
		b.ExcessiveThreshold = 1000
	}
	if b.ExcessiveWindowSeconds == 0 {
		b.ExcessiveWindowSeconds = 900
	}
	if b.ExcessiveBlockSeconds == 0 {
		b.ExcessiveBlockSeconds = 3600
	}

	r := &c.Risk
	if r.HighThreshold == 0 {
		r.HighThreshold = 0.7
	}
	if r.MediumThreshold == 0 {
		r.MediumThreshold = 0.4
	}
	if r.VelocityPerMinute == 0 {
		r.VelocityPerMinute = 10
	}
	if r.LockSeconds == 0 {
		r.LockSeconds = 3600
	}
	if r.RebuildInterval == 0 {
		r.RebuildInterval = 3600
	}
	if r.AssessInterval == 0 {
		r.AssessInterval = 30
	}

	if c.Audit.RecentBufferSize == 0 {
		c.Audit.RecentBufferSize = 1024
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 4096
	}
}
