// Package audithook bridges ticketbooth lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/plugin"
	"github.com/xraph/ticketbooth/ticket"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnTicketPurchased      = (*Extension)(nil)
	_ plugin.OnPaymentSettled       = (*Extension)(nil)
	_ plugin.OnPaymentFailed        = (*Extension)(nil)
	_ plugin.OnTicketExpired        = (*Extension)(nil)
	_ plugin.OnSessionOpened        = (*Extension)(nil)
	_ plugin.OnSessionClosed        = (*Extension)(nil)
	_ plugin.OnDigestCreated        = (*Extension)(nil)
	_ plugin.OnDigestDelivered      = (*Extension)(nil)
	_ plugin.OnDigestDeliveryFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to logger at info level.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, event *AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", event.Action,
			"resource", event.Resource,
			"resource_id", event.ResourceID,
			"outcome", event.Outcome,
			"severity", event.Severity,
			"metadata", event.Metadata,
		)
		return nil
	})
}

// Extension bridges ticketbooth lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ticket lifecycle hooks
// ──────────────────────────────────────────────────

// OnTicketPurchased implements plugin.OnTicketPurchased.
func (e *Extension) OnTicketPurchased(ctx context.Context, t *ticket.Ticket, reused bool) error {
	action := ActionTicketPurchased
	if reused {
		action = ActionTicketReused
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceTicket, t.ID.String(), CategoryAccess, nil,
		"agent_id", t.AgentID,
		"stream_url", t.StreamURL,
		"payment_reference", t.PaymentRef.String(),
		"amount", t.Amount.FormatMajor(),
		"currency", t.Amount.Currency,
	)
}

// OnTicketExpired implements plugin.OnTicketExpired.
func (e *Extension) OnTicketExpired(ctx context.Context, t *ticket.Ticket) error {
	return e.record(ctx, ActionTicketExpired, SeverityInfo, OutcomeSuccess,
		ResourceTicket, t.ID.String(), CategoryAccess, nil,
		"agent_id", t.AgentID,
		"stream_url", t.StreamURL,
	)
}

// ──────────────────────────────────────────────────
// Payment lifecycle hooks
// ──────────────────────────────────────────────────

// OnPaymentSettled implements plugin.OnPaymentSettled.
func (e *Extension) OnPaymentSettled(ctx context.Context, t *ticket.Ticket) error {
	return e.record(ctx, ActionPaymentSettled, SeverityInfo, OutcomeSuccess,
		ResourcePayment, t.PaymentRef.String(), CategoryPayment, nil,
		"ticket_id", t.ID.String(),
		"agent_id", t.AgentID,
		"amount", t.Amount.FormatMajor(),
		"currency", t.Amount.Currency,
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, t *ticket.Ticket) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourcePayment, t.PaymentRef.String(), CategoryPayment, nil,
		"ticket_id", t.ID.String(),
		"agent_id", t.AgentID,
		"amount", t.Amount.FormatMajor(),
	)
}

// ──────────────────────────────────────────────────
// Session lifecycle hooks
// ──────────────────────────────────────────────────

// OnSessionOpened implements plugin.OnSessionOpened.
func (e *Extension) OnSessionOpened(ctx context.Context, t *ticket.Ticket) error {
	return e.record(ctx, ActionSessionOpened, SeverityInfo, OutcomeSuccess,
		ResourceSession, t.ID.String(), CategoryUsage, nil,
		"agent_id", t.AgentID,
		"stream_url", t.StreamURL,
	)
}

// OnSessionClosed implements plugin.OnSessionClosed.
func (e *Extension) OnSessionClosed(ctx context.Context, t *ticket.Ticket, elapsed time.Duration) error {
	return e.record(ctx, ActionSessionClosed, SeverityInfo, OutcomeSuccess,
		ResourceSession, t.ID.String(), CategoryUsage, nil,
		"agent_id", t.AgentID,
		"frame_count", t.FrameCount,
		"metered_cost", t.MeteredCost.FormatMajor(),
		"duration_seconds", int64(elapsed/time.Second),
	)
}

// ──────────────────────────────────────────────────
// Digest lifecycle hooks
// ──────────────────────────────────────────────────

// OnDigestCreated implements plugin.OnDigestCreated.
func (e *Extension) OnDigestCreated(ctx context.Context, d *digest.Digest) error {
	return e.record(ctx, ActionDigestCreated, SeverityInfo, OutcomeSuccess,
		ResourceDigest, d.ID.String(), CategoryUsage, nil,
		"ticket_id", d.TicketID.String(),
		"agent_id", d.AgentID,
		"total_cost", d.TotalCost.FormatMajor(),
	)
}

// OnDigestDelivered implements plugin.OnDigestDelivered.
func (e *Extension) OnDigestDelivered(ctx context.Context, d *digest.Digest) error {
	return e.record(ctx, ActionDigestDelivered, SeverityInfo, OutcomeSuccess,
		ResourceDigest, d.ID.String(), CategoryNotification, nil,
		"agent_id", d.AgentID,
	)
}

// OnDigestDeliveryFailed implements plugin.OnDigestDeliveryFailed.
func (e *Extension) OnDigestDeliveryFailed(ctx context.Context, d *digest.Digest, err error) error {
	return e.record(ctx, ActionDigestDeliveryFailed, SeverityError, OutcomeFailure,
		ResourceDigest, d.ID.String(), CategoryNotification, err,
		"agent_id", d.AgentID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
