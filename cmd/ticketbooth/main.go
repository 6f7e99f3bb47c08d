// ticketbooth serves the pay-per-view ticketing API for autonomous agents.
//
// Agents register, buy a ticket for a stream URL through an HTTP 402
// payment challenge, and then watch the stream over a WebSocket that
// meters every analysed unit. When the session ends the booth builds a
// digest and delivers it to the agent's owner.
//
// The binary runs on the in-memory store. Deployments that need
// persistence embed the booth through the Forge extension and hand it a
// grove-backed store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/analyzer"
	"github.com/xraph/ticketbooth/api"
	audithook "github.com/xraph/ticketbooth/audit_hook"
	"github.com/xraph/ticketbooth/notify"
	"github.com/xraph/ticketbooth/observability"
	"github.com/xraph/ticketbooth/settlement"
	"github.com/xraph/ticketbooth/store/memory"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
		logFormat  string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("ticketbooth", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("TICKETBOOTH_CONFIG"), "path to ticketbooth.yaml")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flagSet.StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts, err := boothOptions(cfg, logger, registry)
	if err != nil {
		return err
	}
	booth := ticketbooth.New(memory.New(), opts...)
	if err := booth.Start(ctx); err != nil {
		return fmt.Errorf("start booth: %w", err)
	}
	defer func() {
		if err := booth.Stop(); err != nil {
			logger.Error("stop booth", "error", err)
		}
	}()

	handler := api.New(booth,
		api.WithLogger(logger),
		api.WithBasePath(cfg.BasePath),
		api.WithEnvironment(cfg.Environment),
		api.WithOriginPatterns(cfg.OriginPatterns...),
	)

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ticketbooth listening",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"settlement", cfg.Settlement.Mode,
			"notify", cfg.Notify.Mode,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// boothOptions translates cfg into engine options and builds the
// external collaborators.
func boothOptions(cfg *Config, logger *slog.Logger, reg prometheus.Registerer) ([]ticketbooth.Option, error) {
	bc := cfg.Booth
	opts := []ticketbooth.Option{
		ticketbooth.WithLogger(logger),
		ticketbooth.WithTicketTTL(bc.TicketTTL),
		ticketbooth.WithCallTimeout(bc.CallTimeout),
		ticketbooth.WithSweepInterval(bc.SweepInterval),
		ticketbooth.WithMeterConfig(bc.MeterBatchSize, bc.MeterFlushInterval),
	}
	if bc.Network != "" {
		opts = append(opts, ticketbooth.WithNetwork(bc.Network))
	}
	if bc.TreasuryWallet != "" {
		opts = append(opts, ticketbooth.WithTreasuryWallet(bc.TreasuryWallet))
	}
	if bc.DefaultStreamPrice != "" {
		price, err := bc.streamPrice()
		if err != nil {
			return nil, err
		}
		opts = append(opts, ticketbooth.WithDefaultStreamPrice(price))
	}
	if bc.StrictStreams {
		opts = append(opts, ticketbooth.WithStrictStreams())
	}
	if bc.BalanceCheck {
		opts = append(opts, ticketbooth.WithBalanceCheck())
	}
	if bc.AnalysisSamples > 0 {
		opts = append(opts, ticketbooth.WithAnalysisSamples(bc.AnalysisSamples))
	}

	gateway, err := newGateway(cfg.Settlement, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ticketbooth.WithGateway(gateway))

	if cfg.Analyzer.BaseURL != "" {
		client, err := analyzer.NewClient(analyzer.ClientConfig{
			BaseURL:  cfg.Analyzer.BaseURL,
			APIKey:   cfg.Analyzer.APIKey,
			MaxTries: cfg.Analyzer.MaxTries,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, ticketbooth.WithAnalyzer(client))
	}

	opts = append(opts, ticketbooth.WithNotifier(newNotifier(cfg.Notify, logger)))

	if cfg.Metrics.Enabled {
		opts = append(opts, ticketbooth.WithPlugin(
			observability.NewMetricsExtension(observability.NewPrometheusFactory(reg)),
		))
	}
	if cfg.Audit.Enabled {
		opts = append(opts, ticketbooth.WithPlugin(audithook.New(
			audithook.LogRecorder(logger),
			audithook.WithLogger(logger),
			audithook.WithDisabledActions(cfg.Audit.DisabledActions...),
		)))
	}

	return opts, nil
}

func newGateway(cfg SettlementConfig, logger *slog.Logger) (settlement.Gateway, error) {
	if cfg.Mode == "facilitator" {
		return settlement.NewFacilitator(settlement.FacilitatorConfig{
			BaseURL:       cfg.BaseURL,
			BalanceURL:    cfg.BalanceURL,
			TokenContract: cfg.TokenContract,
			APIKey:        cfg.APIKey,
			APISecret:     cfg.APISecret,
			MaxTries:      cfg.MaxTries,
			Logger:        logger,
		})
	}
	sandbox := settlement.NewSandbox()
	sandbox.SetAutoSettle(cfg.AutoSettle)
	return sandbox, nil
}

func newNotifier(cfg NotifyConfig, logger *slog.Logger) notify.Notifier {
	if cfg.Mode == "webhook" {
		return notify.NewWebhook(notify.WebhookConfig{
			URL:      cfg.URL,
			APIKey:   cfg.APIKey,
			Secret:   cfg.Secret,
			MaxTries: cfg.MaxTries,
			Logger:   logger,
		})
	}
	return notify.Log{Logger: logger}
}

func newLogger(cfg LogConfig) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ticketbooth: pay-per-view ticketing for autonomous agents.

Reads configuration from --config (or $TICKETBOOTH_CONFIG) and serves the
HTTP and WebSocket API. Without a config file the server starts with the
sandbox gateway in auto-settle mode and logs digests instead of sending them.

Usage:
  ticketbooth [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
