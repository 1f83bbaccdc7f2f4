package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries the whole application configuration. It is loaded from
// YAML once at startup and then overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Host           string   `yaml:"host"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Exchange struct {
		WSURL         string   `yaml:"ws_url"`
		RestURL       string   `yaml:"rest_url"`
		Symbols       []string `yaml:"symbols"`
		SnapshotDepth int      `yaml:"snapshot_depth"`

		OiPollIntervalSec      int  `yaml:"oi_poll_interval_sec"`
		FundingPollIntervalSec int  `yaml:"funding_poll_interval_sec"`
		MockOi                 bool `yaml:"mock_oi"`
	} `yaml:"exchange"`

	Metrics struct {
		TickIntervalMs int64 `yaml:"tick_interval_ms"`
		TradeWindowMs  int64 `yaml:"trade_window_ms"`
	} `yaml:"metrics"`

	Hub struct {
		QueueSize          int `yaml:"queue_size"`
		DropCloseThreshold int `yaml:"drop_close_threshold"`
	} `yaml:"hub"`

	Execution struct {
		MaxLeverage int    `yaml:"max_leverage"`
		DBPath      string `yaml:"db_path"`
	} `yaml:"execution"`

	Logging struct {
		Level             string `yaml:"level"`
		QueueLimit        int    `yaml:"queue_limit"`
		DropHaltThreshold int    `yaml:"drop_halt_threshold"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Exchange.SnapshotDepth == 0 {
		c.Exchange.SnapshotDepth = 1000
	}
	if c.Exchange.OiPollIntervalSec == 0 {
		c.Exchange.OiPollIntervalSec = 10
	}
	if c.Exchange.FundingPollIntervalSec == 0 {
		c.Exchange.FundingPollIntervalSec = 30
	}
	if c.Metrics.TickIntervalMs == 0 {
		c.Metrics.TickIntervalMs = 250
	}
	if c.Metrics.TradeWindowMs == 0 {
		c.Metrics.TradeWindowMs = 60_000
	}
	if c.Execution.MaxLeverage == 0 {
		c.Execution.MaxLeverage = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Exchange.WSURL == "" || (!hasPrefix(c.Exchange.WSURL, "ws://") && !hasPrefix(c.Exchange.WSURL, "wss://")) {
		return fmt.Errorf("invalid exchange WS URL: %s", c.Exchange.WSURL)
	}
	if c.Exchange.RestURL == "" || (!hasPrefix(c.Exchange.RestURL, "http://") && !hasPrefix(c.Exchange.RestURL, "https://")) {
		return fmt.Errorf("invalid exchange REST URL: %s", c.Exchange.RestURL)
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Server.Port)
	}
	if c.Metrics.TickIntervalMs <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Execution.MaxLeverage <= 0 {
		return fmt.Errorf("max leverage must be positive")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies the documented environment variables on top of
// the file configuration.
func overrideWithEnv(cfg *Config) error {
	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.Server.AllowedOrigins = cfg.Server.AllowedOrigins[:0]
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, trimmed)
			}
		}
	}
	if lev := os.Getenv("MAX_LEVERAGE"); lev != "" {
		l, err := strconv.Atoi(lev)
		if err != nil {
			return fmt.Errorf("MAX_LEVERAGE: %w", err)
		}
		cfg.Execution.MaxLeverage = l
	}
	if limit := os.Getenv("LOGGER_QUEUE_LIMIT"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return fmt.Errorf("LOGGER_QUEUE_LIMIT: %w", err)
		}
		cfg.Logging.QueueLimit = n
	}
	if halt := os.Getenv("LOGGER_DROP_HALT_THRESHOLD"); halt != "" {
		n, err := strconv.Atoi(halt)
		if err != nil {
			return fmt.Errorf("LOGGER_DROP_HALT_THRESHOLD: %w", err)
		}
		cfg.Logging.DropHaltThreshold = n
	}
	return nil
}
