// Package observability provides a metrics extension for ticketbooth that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/plugin"
	"github.com/xraph/ticketbooth/ticket"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnTicketPurchased      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentSettled       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed        = (*MetricsExtension)(nil)
	_ plugin.OnTicketExpired        = (*MetricsExtension)(nil)
	_ plugin.OnSessionOpened        = (*MetricsExtension)(nil)
	_ plugin.OnSessionClosed        = (*MetricsExtension)(nil)
	_ plugin.OnUsageFlushed         = (*MetricsExtension)(nil)
	_ plugin.OnDigestCreated        = (*MetricsExtension)(nil)
	_ plugin.OnDigestDelivered      = (*MetricsExtension)(nil)
	_ plugin.OnDigestDeliveryFailed = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a ticketbooth plugin to track sales and watch metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Ticket metrics
	TicketsPurchased Counter
	TicketsReused    Counter
	TicketsExpired   Counter
	TicketPrice      Histogram

	// Payment metrics
	PaymentsSettled Counter
	PaymentsFailed  Counter

	// Session metrics
	SessionsOpened    Counter
	SessionsClosed    Counter
	SessionDuration   Histogram
	SessionFrames     Histogram
	UsageFlushed      Counter
	UsageFlushLatency Histogram

	// Digest metrics
	DigestsCreated       Counter
	DigestsDelivered     Counter
	DigestDeliveryFailed Counter
	DigestTotalCost      Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a standalone binary.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		TicketsPurchased: factory.Counter("ticketbooth.ticket.purchased"),
		TicketsReused:    factory.Counter("ticketbooth.ticket.reused"),
		TicketsExpired:   factory.Counter("ticketbooth.ticket.expired"),
		TicketPrice:      factory.Histogram("ticketbooth.ticket.price_minor"),

		PaymentsSettled: factory.Counter("ticketbooth.payment.settled"),
		PaymentsFailed:  factory.Counter("ticketbooth.payment.failed"),

		SessionsOpened:    factory.Counter("ticketbooth.session.opened"),
		SessionsClosed:    factory.Counter("ticketbooth.session.closed"),
		SessionDuration:   factory.Histogram("ticketbooth.session.duration_seconds"),
		SessionFrames:     factory.Histogram("ticketbooth.session.frames"),
		UsageFlushed:      factory.Counter("ticketbooth.usage.events.flushed"),
		UsageFlushLatency: factory.Histogram("ticketbooth.usage.flush.latency_ms"),

		DigestsCreated:       factory.Counter("ticketbooth.digest.created"),
		DigestsDelivered:     factory.Counter("ticketbooth.digest.delivered"),
		DigestDeliveryFailed: factory.Counter("ticketbooth.digest.delivery_failed"),
		DigestTotalCost:      factory.Histogram("ticketbooth.digest.total_cost_minor"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ticket lifecycle hooks
// ──────────────────────────────────────────────────

// OnTicketPurchased implements plugin.OnTicketPurchased.
func (m *MetricsExtension) OnTicketPurchased(_ context.Context, t *ticket.Ticket, reused bool) error {
	if reused {
		m.TicketsReused.Inc()
		return nil
	}
	m.TicketsPurchased.Inc()
	m.TicketPrice.Observe(float64(t.Amount.Amount))
	return nil
}

// OnPaymentSettled implements plugin.OnPaymentSettled.
func (m *MetricsExtension) OnPaymentSettled(_ context.Context, _ *ticket.Ticket) error {
	m.PaymentsSettled.Inc()
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ *ticket.Ticket) error {
	m.PaymentsFailed.Inc()
	return nil
}

// OnTicketExpired implements plugin.OnTicketExpired.
func (m *MetricsExtension) OnTicketExpired(_ context.Context, _ *ticket.Ticket) error {
	m.TicketsExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Session lifecycle hooks
// ──────────────────────────────────────────────────

// OnSessionOpened implements plugin.OnSessionOpened.
func (m *MetricsExtension) OnSessionOpened(_ context.Context, _ *ticket.Ticket) error {
	m.SessionsOpened.Inc()
	return nil
}

// OnSessionClosed implements plugin.OnSessionClosed.
func (m *MetricsExtension) OnSessionClosed(_ context.Context, t *ticket.Ticket, elapsed time.Duration) error {
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(elapsed.Seconds())
	m.SessionFrames.Observe(float64(t.FrameCount))
	return nil
}

// OnUsageFlushed implements plugin.OnUsageFlushed.
func (m *MetricsExtension) OnUsageFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.UsageFlushed.Add(float64(count))
	m.UsageFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Digest lifecycle hooks
// ──────────────────────────────────────────────────

// OnDigestCreated implements plugin.OnDigestCreated.
func (m *MetricsExtension) OnDigestCreated(_ context.Context, d *digest.Digest) error {
	m.DigestsCreated.Inc()
	m.DigestTotalCost.Observe(float64(d.TotalCost.Amount))
	return nil
}

// OnDigestDelivered implements plugin.OnDigestDelivered.
func (m *MetricsExtension) OnDigestDelivered(_ context.Context, _ *digest.Digest) error {
	m.DigestsDelivered.Inc()
	return nil
}

// OnDigestDeliveryFailed implements plugin.OnDigestDeliveryFailed.
func (m *MetricsExtension) OnDigestDeliveryFailed(_ context.Context, _ *digest.Digest, _ error) error {
	m.DigestDeliveryFailed.Inc()
	return nil
}
