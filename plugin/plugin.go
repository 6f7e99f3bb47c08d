// Package plugin provides an extensible hook system for ticketbooth.
// Plugins implement any subset of the hook interfaces below and are
// dispatched by the Registry whenever the matching lifecycle event occurs.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/ticket"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the booth starts. booth is the *ticketbooth.Booth.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, booth any) error
}

// OnShutdown is called when the booth stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ticket hooks
// ──────────────────────────────────────────────────

// OnTicketPurchased is called after a purchase returns a payment challenge.
// reused is true when an existing pending ticket was handed back.
type OnTicketPurchased interface {
	Plugin
	OnTicketPurchased(ctx context.Context, t *ticket.Ticket, reused bool) error
}

// OnPaymentSettled is called when a ticket becomes active.
type OnPaymentSettled interface {
	Plugin
	OnPaymentSettled(ctx context.Context, t *ticket.Ticket) error
}

// OnPaymentFailed is called when the gateway reports a failed payment.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, t *ticket.Ticket) error
}

// OnTicketExpired is called when an unused ticket's window lapses.
type OnTicketExpired interface {
	Plugin
	OnTicketExpired(ctx context.Context, t *ticket.Ticket) error
}

// ──────────────────────────────────────────────────
// Watch session hooks
// ──────────────────────────────────────────────────

// OnSessionOpened is called when a watch session starts streaming.
type OnSessionOpened interface {
	Plugin
	OnSessionOpened(ctx context.Context, t *ticket.Ticket) error
}

// OnSessionClosed is called once per session after the ticket completes.
type OnSessionClosed interface {
	Plugin
	OnSessionClosed(ctx context.Context, t *ticket.Ticket, elapsed time.Duration) error
}

// OnUsageFlushed is called when usage events are flushed to the store.
type OnUsageFlushed interface {
	Plugin
	OnUsageFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Digest hooks
// ──────────────────────────────────────────────────

// OnDigestCreated is called when a digest is persisted.
type OnDigestCreated interface {
	Plugin
	OnDigestCreated(ctx context.Context, d *digest.Digest) error
}

// OnDigestDelivered is called after the owner notification succeeds.
type OnDigestDelivered interface {
	Plugin
	OnDigestDelivered(ctx context.Context, d *digest.Digest) error
}

// OnDigestDeliveryFailed is called when the owner notification fails.
type OnDigestDeliveryFailed interface {
	Plugin
	OnDigestDeliveryFailed(ctx context.Context, d *digest.Digest, err error) error
}
