package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/ticket"
)

// DefaultHookTimeout bounds each hook invocation.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event only touches plugins
// that implement the matching hook.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onTicketPurchased      []OnTicketPurchased
	onPaymentSettled       []OnPaymentSettled
	onPaymentFailed        []OnPaymentFailed
	onTicketExpired        []OnTicketExpired
	onSessionOpened        []OnSessionOpened
	onSessionClosed        []OnSessionClosed
	onUsageFlushed         []OnUsageFlushed
	onDigestCreated        []OnDigestCreated
	onDigestDelivered      []OnDigestDelivered
	onDigestDeliveryFailed []OnDigestDeliveryFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTicketPurchased); ok {
		r.onTicketPurchased = append(r.onTicketPurchased, v)
	}
	if v, ok := p.(OnPaymentSettled); ok {
		r.onPaymentSettled = append(r.onPaymentSettled, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnTicketExpired); ok {
		r.onTicketExpired = append(r.onTicketExpired, v)
	}
	if v, ok := p.(OnSessionOpened); ok {
		r.onSessionOpened = append(r.onSessionOpened, v)
	}
	if v, ok := p.(OnSessionClosed); ok {
		r.onSessionClosed = append(r.onSessionClosed, v)
	}
	if v, ok := p.(OnUsageFlushed); ok {
		r.onUsageFlushed = append(r.onUsageFlushed, v)
	}
	if v, ok := p.(OnDigestCreated); ok {
		r.onDigestCreated = append(r.onDigestCreated, v)
	}
	if v, ok := p.(OnDigestDelivered); ok {
		r.onDigestDelivered = append(r.onDigestDelivered, v)
	}
	if v, ok := p.(OnDigestDeliveryFailed); ok {
		r.onDigestDeliveryFailed = append(r.onDigestDeliveryFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnTicketPurchased", reflect.TypeOf((*OnTicketPurchased)(nil)).Elem()},
	{"OnPaymentSettled", reflect.TypeOf((*OnPaymentSettled)(nil)).Elem()},
	{"OnPaymentFailed", reflect.TypeOf((*OnPaymentFailed)(nil)).Elem()},
	{"OnTicketExpired", reflect.TypeOf((*OnTicketExpired)(nil)).Elem()},
	{"OnSessionOpened", reflect.TypeOf((*OnSessionOpened)(nil)).Elem()},
	{"OnSessionClosed", reflect.TypeOf((*OnSessionClosed)(nil)).Elem()},
	{"OnUsageFlushed", reflect.TypeOf((*OnUsageFlushed)(nil)).Elem()},
	{"OnDigestCreated", reflect.TypeOf((*OnDigestCreated)(nil)).Elem()},
	{"OnDigestDelivered", reflect.TypeOf((*OnDigestDelivered)(nil)).Elem()},
	{"OnDigestDeliveryFailed", reflect.TypeOf((*OnDigestDeliveryFailed)(nil)).Elem()},
}

// implementedHooks returns the names of the hook interfaces p implements.
func implementedHooks(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, booth any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()
	dispatch(ctx, r, "OnInit", plugins, func(p OnInit) error { return p.OnInit(ctx, booth) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()
	dispatch(ctx, r, "OnShutdown", plugins, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitTicketPurchased emits a ticket purchased event.
func (r *Registry) EmitTicketPurchased(ctx context.Context, t *ticket.Ticket, reused bool) {
	r.mu.RLock()
	plugins := r.onTicketPurchased
	r.mu.RUnlock()
	dispatch(ctx, r, "OnTicketPurchased", plugins, func(p OnTicketPurchased) error {
		return p.OnTicketPurchased(ctx, t, reused)
	})
}

// EmitPaymentSettled emits a payment settled event.
func (r *Registry) EmitPaymentSettled(ctx context.Context, t *ticket.Ticket) {
	r.mu.RLock()
	plugins := r.onPaymentSettled
	r.mu.RUnlock()
	dispatch(ctx, r, "OnPaymentSettled", plugins, func(p OnPaymentSettled) error {
		return p.OnPaymentSettled(ctx, t)
	})
}

// EmitPaymentFailed emits a payment failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, t *ticket.Ticket) {
	r.mu.RLock()
	plugins := r.onPaymentFailed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnPaymentFailed", plugins, func(p OnPaymentFailed) error {
		return p.OnPaymentFailed(ctx, t)
	})
}

// EmitTicketExpired emits a ticket expired event.
func (r *Registry) EmitTicketExpired(ctx context.Context, t *ticket.Ticket) {
	r.mu.RLock()
	plugins := r.onTicketExpired
	r.mu.RUnlock()
	dispatch(ctx, r, "OnTicketExpired", plugins, func(p OnTicketExpired) error {
		return p.OnTicketExpired(ctx, t)
	})
}

// EmitSessionOpened emits a session opened event.
func (r *Registry) EmitSessionOpened(ctx context.Context, t *ticket.Ticket) {
	r.mu.RLock()
	plugins := r.onSessionOpened
	r.mu.RUnlock()
	dispatch(ctx, r, "OnSessionOpened", plugins, func(p OnSessionOpened) error {
		return p.OnSessionOpened(ctx, t)
	})
}

// EmitSessionClosed emits a session closed event.
func (r *Registry) EmitSessionClosed(ctx context.Context, t *ticket.Ticket, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onSessionClosed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnSessionClosed", plugins, func(p OnSessionClosed) error {
		return p.OnSessionClosed(ctx, t, elapsed)
	})
}

// EmitUsageFlushed emits a usage flushed event.
func (r *Registry) EmitUsageFlushed(ctx context.Context, count int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onUsageFlushed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnUsageFlushed", plugins, func(p OnUsageFlushed) error {
		return p.OnUsageFlushed(ctx, count, elapsed)
	})
}

// EmitDigestCreated emits a digest created event.
func (r *Registry) EmitDigestCreated(ctx context.Context, d *digest.Digest) {
	r.mu.RLock()
	plugins := r.onDigestCreated
	r.mu.RUnlock()
	dispatch(ctx, r, "OnDigestCreated", plugins, func(p OnDigestCreated) error {
		return p.OnDigestCreated(ctx, d)
	})
}

// EmitDigestDelivered emits a digest delivered event.
func (r *Registry) EmitDigestDelivered(ctx context.Context, d *digest.Digest) {
	r.mu.RLock()
	plugins := r.onDigestDelivered
	r.mu.RUnlock()
	dispatch(ctx, r, "OnDigestDelivered", plugins, func(p OnDigestDelivered) error {
		return p.OnDigestDelivered(ctx, d)
	})
}

// EmitDigestDeliveryFailed emits a digest delivery failure event.
func (r *Registry) EmitDigestDeliveryFailed(ctx context.Context, d *digest.Digest, cause error) {
	r.mu.RLock()
	plugins := r.onDigestDeliveryFailed
	r.mu.RUnlock()
	dispatch(ctx, r, "OnDigestDeliveryFailed", plugins, func(p OnDigestDeliveryFailed) error {
		return p.OnDigestDeliveryFailed(ctx, d, cause)
	})
}

// dispatch runs fn for each plugin, logging failures. A failing or slow
// hook never stops the remaining hooks or the caller.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
