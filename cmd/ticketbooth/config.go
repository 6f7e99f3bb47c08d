package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/types"
)

// Config is the on-disk configuration of the ticketbooth server.
type Config struct {
	Addr           string   `yaml:"addr"`
	Environment    string   `yaml:"environment"`
	BasePath       string   `yaml:"base_path"`
	OriginPatterns []string `yaml:"origin_patterns"`

	Log        LogConfig        `yaml:"log"`
	Booth      BoothConfig      `yaml:"booth"`
	Settlement SettlementConfig `yaml:"settlement"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Notify     NotifyConfig     `yaml:"notify"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Audit      AuditConfig      `yaml:"audit"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// BoothConfig mirrors the engine options.
type BoothConfig struct {
	TicketTTL          time.Duration `yaml:"ticket_ttl"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	Network            string        `yaml:"network"`
	TreasuryWallet     string        `yaml:"treasury_wallet"`
	DefaultStreamPrice string        `yaml:"default_stream_price"`
	StrictStreams      bool          `yaml:"strict_streams"`
	BalanceCheck       bool          `yaml:"balance_check"`
	MeterBatchSize     int           `yaml:"meter_batch_size"`
	MeterFlushInterval time.Duration `yaml:"meter_flush_interval"`
	AnalysisSamples    int           `yaml:"analysis_samples"`
}

// SettlementConfig selects the payment gateway.
type SettlementConfig struct {
	// Mode is "sandbox" or "facilitator".
	Mode       string `yaml:"mode"`
	AutoSettle bool   `yaml:"auto_settle"`

	BaseURL       string `yaml:"base_url"`
	BalanceURL    string `yaml:"balance_url"`
	TokenContract string `yaml:"token_contract"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	MaxTries      uint   `yaml:"max_tries"`
}

// AnalyzerConfig configures the analysis client. An empty BaseURL
// disables analysis.
type AnalyzerConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	MaxTries uint   `yaml:"max_tries"`
}

// NotifyConfig selects the digest notifier.
type NotifyConfig struct {
	// Mode is "log" or "webhook".
	Mode     string `yaml:"mode"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Secret   string `yaml:"secret"`
	MaxTries uint   `yaml:"max_tries"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuditConfig controls the audit log plugin.
type AuditConfig struct {
	Enabled         bool     `yaml:"enabled"`
	DisabledActions []string `yaml:"disabled_actions"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":8080",
		Environment: "development",
		Log:         LogConfig{Format: "text", Level: "info"},
		Booth: BoothConfig{
			TicketTTL:          24 * time.Hour,
			CallTimeout:        30 * time.Second,
			SweepInterval:      time.Minute,
			Network:            ticketbooth.DefaultNetwork,
			MeterBatchSize:     100,
			MeterFlushInterval: 5 * time.Second,
		},
		Settlement: SettlementConfig{Mode: "sandbox", AutoSettle: true},
		Notify:     NotifyConfig{Mode: "log"},
		Metrics:    MetricsConfig{Enabled: true, Path: "/metrics"},
		Audit:      AuditConfig{Enabled: true},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Settlement.Mode {
	case "sandbox":
	case "facilitator":
		if c.Settlement.BaseURL == "" {
			return fmt.Errorf("config: settlement.base_url is required in facilitator mode")
		}
	default:
		return fmt.Errorf("config: unknown settlement mode %q", c.Settlement.Mode)
	}
	switch c.Notify.Mode {
	case "log", "webhook":
	default:
		return fmt.Errorf("config: unknown notify mode %q", c.Notify.Mode)
	}
	if c.Booth.DefaultStreamPrice != "" {
		if _, err := c.Booth.streamPrice(); err != nil {
			return err
		}
	}
	return nil
}

func (b BoothConfig) streamPrice() (types.Money, error) {
	m, err := types.ParseMajor(b.DefaultStreamPrice, types.CurrencyUSDC)
	if err != nil {
		return types.Money{}, fmt.Errorf("config: booth.default_stream_price: %w", err)
	}
	if !m.IsPositive() {
		return types.Money{}, fmt.Errorf("config: booth.default_stream_price must be positive")
	}
	return m, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}
