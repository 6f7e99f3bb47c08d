// Package extension provides the Forge extension adapter for ticketbooth.
//
// It implements the forge.Extension interface to integrate a Booth into a
// Forge application with DI registration and lifecycle management. The
// Booth and, unless routes are disabled, its HTTP handler (*api.Server)
// are provided through the vessel container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.ticketbooth" or
// "ticketbooth" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/api"
	"github.com/xraph/ticketbooth/store"
	"github.com/xraph/ticketbooth/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "ticketbooth"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Pay-per-view ticketing for autonomous agents"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts ticketbooth as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config    Config
	booth     *ticketbooth.Booth
	handler   *api.Server
	store     store.Store
	boothOpts []ticketbooth.Option
	apiOpts   []api.Option
}

// New creates a new ticketbooth Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Booth returns the underlying Booth. It is nil until Register is called.
func (e *Extension) Booth() *ticketbooth.Booth { return e.booth }

// Handler returns the HTTP API handler. It is nil until Register is
// called, and stays nil when routes are disabled.
func (e *Extension) Handler() *api.Server { return e.handler }

// Register implements [forge.Extension]. It loads configuration,
// builds the booth, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.booth = ticketbooth.New(e.store, e.buildBoothOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*ticketbooth.Booth, error) {
		return e.booth, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}

	apiOpts := append([]api.Option{api.WithBasePath(e.config.BasePath)}, e.apiOpts...)
	e.handler = api.New(e.booth, apiOpts...)

	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return e.handler, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.booth == nil {
		return errors.New("ticketbooth: extension not initialized")
	}

	if err := e.booth.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.booth != nil {
		if err := e.booth.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("ticketbooth: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildBoothOpts constructs ticketbooth.Option values from the resolved config.
func (e *Extension) buildBoothOpts() []ticketbooth.Option {
	cfg := e.config
	opts := make([]ticketbooth.Option, 0, len(e.boothOpts)+9)

	opts = append(opts,
		ticketbooth.WithTicketTTL(cfg.TicketTTL),
		ticketbooth.WithCallTimeout(cfg.CallTimeout),
		ticketbooth.WithSweepInterval(cfg.SweepInterval),
		ticketbooth.WithMeterConfig(cfg.MeterBatchSize, cfg.MeterFlushInterval),
	)
	if cfg.Network != "" {
		opts = append(opts, ticketbooth.WithNetwork(cfg.Network))
	}
	if cfg.TreasuryWallet != "" {
		opts = append(opts, ticketbooth.WithTreasuryWallet(cfg.TreasuryWallet))
	}
	if cfg.StrictStreams {
		opts = append(opts, ticketbooth.WithStrictStreams())
	}
	if cfg.BalanceCheck {
		opts = append(opts, ticketbooth.WithBalanceCheck())
	}
	if cfg.DisableMigrate {
		opts = append(opts, ticketbooth.WithoutMigrate())
	}

	// Pass-through options win over config.
	opts = append(opts, e.boothOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("ticketbooth: configuration is required but not found in config files; " +
				"ensure 'extensions.ticketbooth' or 'ticketbooth' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("ticketbooth: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("ticket_ttl", e.config.TicketTTL),
		forge.F("network", e.config.Network),
		forge.F("meter_batch_size", e.config.MeterBatchSize),
		forge.F("meter_flush_interval", e.config.MeterFlushInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.ticketbooth", "ticketbooth"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("ticketbooth: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("ticketbooth: loaded config from file",
			forge.F("key", key),
		)
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.TicketTTL == 0 {
		cfg.TicketTTL = defaults.TicketTTL
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Network == "" {
		cfg.Network = defaults.Network
	}
	if cfg.MeterBatchSize == 0 {
		cfg.MeterBatchSize = defaults.MeterBatchSize
	}
	if cfg.MeterFlushInterval == 0 {
		cfg.MeterFlushInterval = defaults.MeterFlushInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps and
// programmatic bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.StrictStreams {
		yamlConfig.StrictStreams = true
	}
	if programmaticConfig.BalanceCheck {
		yamlConfig.BalanceCheck = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.Network == "" {
		yamlConfig.Network = programmaticConfig.Network
	}
	if yamlConfig.TreasuryWallet == "" {
		yamlConfig.TreasuryWallet = programmaticConfig.TreasuryWallet
	}

	if yamlConfig.TicketTTL == 0 {
		yamlConfig.TicketTTL = programmaticConfig.TicketTTL
	}
	if yamlConfig.CallTimeout == 0 {
		yamlConfig.CallTimeout = programmaticConfig.CallTimeout
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.MeterBatchSize == 0 {
		yamlConfig.MeterBatchSize = programmaticConfig.MeterBatchSize
	}
	if yamlConfig.MeterFlushInterval == 0 {
		yamlConfig.MeterFlushInterval = programmaticConfig.MeterFlushInterval
	}

	return mergeWithDefaults(yamlConfig)
}
