package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Brewery  BreweryConfig  `mapstructure:"brewery"`
	Detector DetectorConfig `mapstructure:"detector"`
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BreweryConfig holds brewery telemetry API configuration
type BreweryConfig struct {
	APIBaseURL     string        `mapstructure:"api_base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// DetectorConfig holds drain detection parameters.
//
// The smoothing window is adaptive: for a series of n readings the window is
// min(window_cap, n/window_divisor) samples on each side of the center point.
// A computed window of 0 means the series is too short and detection is
// skipped for that cauldron.
type DetectorConfig struct {
	WindowCap     int           `mapstructure:"window_cap"`     // upper bound on window size, 1..50
	WindowDivisor int           `mapstructure:"window_divisor"` // n/divisor yields the size candidate
	SlopeEpsilon  float64       `mapstructure:"slope_epsilon"`  // per-step decrease below this is noise
	MinDrop       float64       `mapstructure:"min_drop"`       // minimum total drop (liters) to report
	Lookback      time.Duration `mapstructure:"lookback"`       // how far back each cycle scans
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// TelegramConfig holds Telegram alert configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DBPath                 string `mapstructure:"db_path"`
	MaxReadingsPerCauldron int    `mapstructure:"max_readings_per_cauldron"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("CAULDRONWATCH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("brewery.api_base_url", "https://hackutd2025.eog.systems/api")
	v.SetDefault("brewery.timeout", "10s")
	v.SetDefault("brewery.poll_interval", "5m")
	v.SetDefault("brewery.max_retries", 3)
	v.SetDefault("brewery.retry_delay_base", "1s")
	v.SetDefault("brewery.cache_ttl", "4m")

	v.SetDefault("detector.window_cap", 5)
	v.SetDefault("detector.window_divisor", 10)
	v.SetDefault("detector.slope_epsilon", 0.1)
	v.SetDefault("detector.min_drop", 5.0)
	v.SetDefault("detector.lookback", "24h")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", ":8080")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.cooldown", "1h")

	v.SetDefault("storage.db_path", "./data/cauldronwatch.db")
	v.SetDefault("storage.max_readings_per_cauldron", 100000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Brewery.APIBaseURL == "" {
		return fmt.Errorf("brewery.api_base_url is required")
	}
	if c.Brewery.Timeout <= 0 {
		return fmt.Errorf("brewery.timeout must be positive")
	}
	if c.Brewery.PollInterval < 30*time.Second {
		return fmt.Errorf("brewery.poll_interval must be at least 30 seconds")
	}
	if c.Brewery.MaxRetries < 1 {
		return fmt.Errorf("brewery.max_retries must be at least 1")
	}
	if c.Brewery.CacheTTL < 0 {
		return fmt.Errorf("brewery.cache_ttl must not be negative")
	}

	if c.Detector.WindowCap < 1 || c.Detector.WindowCap > 50 {
		return fmt.Errorf("detector.window_cap must be between 1 and 50")
	}
	if c.Detector.WindowDivisor < 1 {
		return fmt.Errorf("detector.window_divisor must be at least 1")
	}
	if c.Detector.SlopeEpsilon < 0 {
		return fmt.Errorf("detector.slope_epsilon must not be negative")
	}
	if c.Detector.MinDrop <= 0 {
		return fmt.Errorf("detector.min_drop must be positive")
	}
	if c.Detector.Lookback < c.Brewery.PollInterval {
		return fmt.Errorf("detector.lookback must cover at least one poll interval")
	}

	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when server is enabled")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxReadingsPerCauldron < 1 {
		return fmt.Errorf("storage.max_readings_per_cauldron must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
