package extension

import (
	"time"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/api"
	"github.com/xraph/ticketbooth/plugin"
	"github.com/xraph/ticketbooth/store"
)

// Option configures the ticketbooth Forge extension.
type Option func(*Extension)

// WithStore sets the store for the booth.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBoothOption passes a ticketbooth.Option through to the underlying booth.
func WithBoothOption(opt ticketbooth.Option) Option {
	return func(e *Extension) {
		e.boothOpts = append(e.boothOpts, opt)
	}
}

// WithAPIOption passes an api.Option through to the HTTP handler.
func WithAPIOption(opt api.Option) Option {
	return func(e *Extension) {
		e.apiOpts = append(e.apiOpts, opt)
	}
}

// WithPlugin registers a ticketbooth plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.boothOpts = append(e.boothOpts, ticketbooth.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes skips building the HTTP API handler.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for ticketbooth routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithTicketTTL sets how long a paid ticket stays usable.
func WithTicketTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.TicketTTL = d }
}

// WithMeterBatchSize sets the number of usage events to buffer before flushing.
func WithMeterBatchSize(size int) Option {
	return func(e *Extension) { e.config.MeterBatchSize = size }
}

// WithMeterFlushInterval sets how frequently the meter buffer is flushed.
func WithMeterFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.MeterFlushInterval = d }
}
