package extension

import "time"

// Config holds the ticketbooth extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.ticketbooth" or "ticketbooth" keys).
type Config struct {
	// DisableRoutes skips building the HTTP API handler.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for ticketbooth routes (default: "/ticketbooth").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// TicketTTL is how long a paid ticket stays usable after purchase (default: 24h).
	TicketTTL time.Duration `json:"ticket_ttl" mapstructure:"ticket_ttl" yaml:"ticket_ttl"`

	// CallTimeout bounds every settlement, analyzer and notifier call (default: 30s).
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout" yaml:"call_timeout"`

	// SweepInterval is how often stale tickets are expired and undelivered
	// digests retried (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// Network is the payment network reported in challenges (default: "base").
	Network string `json:"network" mapstructure:"network" yaml:"network"`

	// TreasuryWallet receives ticket payments.
	TreasuryWallet string `json:"treasury_wallet" mapstructure:"treasury_wallet" yaml:"treasury_wallet"`

	// StrictStreams rejects purchases for URLs missing from the catalogue.
	StrictStreams bool `json:"strict_streams" mapstructure:"strict_streams" yaml:"strict_streams"`

	// BalanceCheck rejects purchases the agent's wallet cannot cover.
	BalanceCheck bool `json:"balance_check" mapstructure:"balance_check" yaml:"balance_check"`

	// MeterBatchSize is the number of usage events to buffer before flushing
	// to the store (default: 100).
	MeterBatchSize int `json:"meter_batch_size" mapstructure:"meter_batch_size" yaml:"meter_batch_size"`

	// MeterFlushInterval is how frequently the meter buffer is flushed
	// even if the batch size has not been reached (default: 5s).
	MeterFlushInterval time.Duration `json:"meter_flush_interval" mapstructure:"meter_flush_interval" yaml:"meter_flush_interval"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:           "/ticketbooth",
		TicketTTL:          24 * time.Hour,
		CallTimeout:        30 * time.Second,
		SweepInterval:      time.Minute,
		Network:            "base",
		MeterBatchSize:     100,
		MeterFlushInterval: 5 * time.Second,
	}
}
