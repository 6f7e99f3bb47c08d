package ticketbooth

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/ticketbooth/analyzer"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/notify"
	"github.com/xraph/ticketbooth/plugin"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/settlement"
	"github.com/xraph/ticketbooth/store"
	"github.com/xraph/ticketbooth/types"
)

// Defaults applied by New.
const (
	DefaultTicketTTL          = 24 * time.Hour
	DefaultCallTimeout        = 30 * time.Second
	DefaultSweepInterval      = time.Minute
	DefaultMeterBatchSize     = 100
	DefaultMeterFlushInterval = 5 * time.Second
	DefaultAnalysisSamples    = 3
	DefaultNetwork            = "base"
	DefaultTreasuryWallet     = "0xClawnemaTreasuryAddressOnBase"
)

// DefaultStreamPrice is charged for streams that have no catalogue entry.
var DefaultStreamPrice = types.USDC(100000)

var errNoGateway = errors.New("no settlement gateway configured")

// Booth is the pay-per-view ticketing engine. It sells tickets, confirms
// payment, meters watch sessions and assembles post-watch digests.
type Booth struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	gateway  settlement.Gateway
	analyzer analyzer.Analyzer
	notifier notify.Notifier
	rates    pricing.RateCard
	now      func() time.Time

	// Concurrency control
	purchaseLocks stripedMutex
	challenges    singleflight.Group
	verifications singleflight.Group
	sessions      sync.Map // ticket id → *Session
	digestWG      sync.WaitGroup

	// lifecycle guards stopped and every digestWG.Add.
	lifecycle sync.Mutex
	stopped   bool

	// Background workers
	meterBuffer chan *meter.UsageEvent
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Configuration
	ticketTTL          time.Duration
	callTimeout        time.Duration
	sweepInterval      time.Duration
	treasuryWallet     string
	network            string
	defaultStreamPrice types.Money
	strictStreams      bool
	balanceCheck       bool
	skipMigrate        bool
	meterBatchSize     int
	meterFlushInterval time.Duration
	analysisSamples    int
}

// New creates a new Booth backed by s.
func New(s store.Store, opts ...Option) *Booth {
	b := &Booth{
		store:              s,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		rates:              pricing.DefaultRateCard(),
		now:                func() time.Time { return time.Now().UTC() },
		meterBuffer:        make(chan *meter.UsageEvent, 10000),
		stopChan:           make(chan struct{}),
		ticketTTL:          DefaultTicketTTL,
		callTimeout:        DefaultCallTimeout,
		sweepInterval:      DefaultSweepInterval,
		treasuryWallet:     DefaultTreasuryWallet,
		network:            DefaultNetwork,
		defaultStreamPrice: DefaultStreamPrice,
		meterBatchSize:     DefaultMeterBatchSize,
		meterFlushInterval: DefaultMeterFlushInterval,
		analysisSamples:    DefaultAnalysisSamples,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Option configures a Booth instance.
type Option func(*Booth)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Booth) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Booth) {
		_ = b.plugins.Register(p) //nolint:errcheck // duplicate names are logged by the registry
	}
}

// WithGateway sets the settlement gateway.
func WithGateway(g settlement.Gateway) Option {
	return func(b *Booth) { b.gateway = g }
}

// WithAnalyzer sets the content analyzer used when assembling digests.
// Without one, digests carry metering data only.
func WithAnalyzer(a analyzer.Analyzer) Option {
	return func(b *Booth) { b.analyzer = a }
}

// WithNotifier sets the owner notifier. Without one, digests stay undelivered.
func WithNotifier(n notify.Notifier) Option {
	return func(b *Booth) { b.notifier = n }
}

// WithRateCard overrides analysis and frame rates.
func WithRateCard(rc pricing.RateCard) Option {
	return func(b *Booth) { b.rates = rc }
}

// WithTicketTTL sets how long a paid ticket stays usable after purchase.
func WithTicketTTL(ttl time.Duration) Option {
	return func(b *Booth) {
		if ttl > 0 {
			b.ticketTTL = ttl
		}
	}
}

// WithCallTimeout bounds every gateway, analyzer and notifier call.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Booth) {
		if d > 0 {
			b.callTimeout = d
		}
	}
}

// WithTreasuryWallet sets the wallet ticket payments are sent to.
func WithTreasuryWallet(wallet string) Option {
	return func(b *Booth) { b.treasuryWallet = wallet }
}

// WithNetwork sets the payment network reported in challenges.
func WithNetwork(network string) Option {
	return func(b *Booth) { b.network = network }
}

// WithDefaultStreamPrice sets the price of placeholder streams.
func WithDefaultStreamPrice(price types.Money) Option {
	return func(b *Booth) { b.defaultStreamPrice = price }
}

// WithStrictStreams rejects purchases for URLs missing from the catalogue
// instead of pricing a placeholder stream.
func WithStrictStreams() Option {
	return func(b *Booth) { b.strictStreams = true }
}

// WithBalanceCheck refreshes the agent's balance at purchase and rejects
// purchases the wallet cannot cover.
func WithBalanceCheck() Option {
	return func(b *Booth) { b.balanceCheck = true }
}

// WithMeterConfig configures usage event batching.
func WithMeterConfig(batchSize int, flushInterval time.Duration) Option {
	return func(b *Booth) {
		if batchSize > 0 {
			b.meterBatchSize = batchSize
		}
		if flushInterval > 0 {
			b.meterFlushInterval = flushInterval
		}
	}
}

// WithSweepInterval sets how often stale tickets are expired and
// undelivered digests retried.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Booth) {
		if d > 0 {
			b.sweepInterval = d
		}
	}
}

// WithAnalysisSamples sets how many unit payloads per session are kept for
// analysis. Zero disables analysis.
func WithAnalysisSamples(n int) Option {
	return func(b *Booth) {
		if n >= 0 {
			b.analysisSamples = n
		}
	}
}

// WithoutMigrate starts the booth without migrating the store.
func WithoutMigrate() Option {
	return func(b *Booth) { b.skipMigrate = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Booth) { b.now = now }
}

// Store returns the underlying store.
func (b *Booth) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Booth) Plugins() *plugin.Registry { return b.plugins }

// Start migrates the store and begins background workers.
func (b *Booth) Start(ctx context.Context) error {
	if !b.skipMigrate {
		if err := b.store.Migrate(ctx); err != nil {
			return err
		}
	}

	b.plugins.EmitInit(ctx, b)

	workerCtx := context.WithoutCancel(ctx)

	b.wg.Add(2)
	go b.meterFlushWorker(workerCtx)
	go b.sweepWorker(workerCtx)

	b.logger.Info("ticketbooth started",
		"ticket_ttl", b.ticketTTL,
		"call_timeout", b.callTimeout,
		"sweep_interval", b.sweepInterval,
		"batch_size", b.meterBatchSize,
		"flush_interval", b.meterFlushInterval,
		"network", b.network,
	)

	return nil
}

// Stop refuses new sessions and units, finalizes live sessions, waits for
// pending digests, drains the meter buffer and closes the store. It is safe
// to call more than once.
func (b *Booth) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		ctx := context.Background()

		b.lifecycle.Lock()
		b.stopped = true
		b.lifecycle.Unlock()

		b.sessions.Range(func(_, v any) bool {
			v.(*Session).Close(ctx)
			return true
		})
		b.digestWG.Wait()

		close(b.stopChan)
		b.wg.Wait()

		b.plugins.EmitShutdown(ctx)
		err = b.store.Close()

		b.logger.Info("ticketbooth stopped")
	})
	return err
}

// isStopped reports whether Stop has begun.
func (b *Booth) isStopped() bool {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.stopped
}

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

// enqueueUsage hands an event to the flush worker without blocking.
func (b *Booth) enqueueUsage(e *meter.UsageEvent) {
	select {
	case b.meterBuffer <- e:
	default:
		b.logger.Warn("usage event dropped",
			"error", ErrMeterBufferFull,
			"ticket_id", e.TicketID.String(),
			"frame", e.FrameNumber,
		)
	}
}

// meterFlushWorker flushes usage events to the store.
func (b *Booth) meterFlushWorker(ctx context.Context) {
	defer b.wg.Done()

	batch := make([]*meter.UsageEvent, 0, b.meterBatchSize)
	ticker := time.NewTicker(b.meterFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
		drain:
			for {
				select {
				case event := <-b.meterBuffer:
					batch = append(batch, event)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				b.flushMeterBatch(ctx, batch)
			}
			return

		case event := <-b.meterBuffer:
			batch = append(batch, event)
			if len(batch) >= b.meterBatchSize {
				b.flushMeterBatch(ctx, batch)
				batch = make([]*meter.UsageEvent, 0, b.meterBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flushMeterBatch(ctx, batch)
				batch = make([]*meter.UsageEvent, 0, b.meterBatchSize)
			}
		}
	}
}

func (b *Booth) flushMeterBatch(ctx context.Context, batch []*meter.UsageEvent) {
	start := time.Now()

	if err := b.store.IngestBatch(ctx, batch); err != nil {
		b.logger.Error("failed to flush meter batch",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	elapsed := time.Since(start)
	b.plugins.EmitUsageFlushed(ctx, len(batch), elapsed)

	b.logger.Debug("flushed meter batch",
		"batch_size", len(batch),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// sweepWorker periodically expires stale tickets and retries digest delivery.
func (b *Booth) sweepWorker(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

func (b *Booth) sweep(ctx context.Context) {
	if n, err := b.ExpireStale(ctx); err != nil {
		b.logger.Error("failed to expire stale tickets", "error", err)
	} else if n > 0 {
		b.logger.Info("expired stale tickets", "count", n)
	}

	if n, err := b.RedeliverPending(ctx); err != nil {
		b.logger.Error("failed to redeliver digests", "error", err)
	} else if n > 0 {
		b.logger.Info("redelivered digests", "count", n)
	}
}

// callCtx derives a context bounded by the collaborator call timeout.
func (b *Booth) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.callTimeout)
}

// stripedMutex serialises work per key without a global lock.
type stripedMutex [64]sync.Mutex

func (m *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m[h.Sum32()%uint32(len(m))]
	mu.Lock()
	return mu.Unlock
}
