package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// Store is the unified storage interface for all ticketbooth entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Ticket transitions are compare-and-set operations. When the expected
// prior state no longer holds they return ticketbooth.ErrTransitionConflict
// and leave the record untouched. Each transition stamps updated_at with
// the caller's time, so records follow the engine clock.
type Store interface {
	// Agent methods
	CreateAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, agentID string) (*agent.Agent, error)
	UpdateAgentBalance(ctx context.Context, agentID string, balance types.Money, at time.Time) error

	// Stream methods
	CreateStream(ctx context.Context, s *stream.Stream) error
	GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error)
	GetStreamByURL(ctx context.Context, url string) (*stream.Stream, error)
	ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error)

	// Ticket methods
	CreateTicket(ctx context.Context, t *ticket.Ticket) error
	GetTicket(ctx context.Context, ticketID id.TicketID) (*ticket.Ticket, error)
	FindPendingTicket(ctx context.Context, agentID, streamURL string) (*ticket.Ticket, error)
	SetChallenge(ctx context.Context, ticketID id.TicketID, challenge json.RawMessage, at time.Time) error
	// SettleTicket moves payment pending → paid and status pending → active.
	SettleTicket(ctx context.Context, ticketID id.TicketID, paidAt, expiresAt time.Time) error
	// FailTicket moves payment pending → failed.
	FailTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error
	// StartWatching sets watch_started_at on an active ticket that has none.
	StartWatching(ctx context.Context, ticketID id.TicketID, at time.Time) error
	// CompleteTicket moves active → completed and records the final counters.
	CompleteTicket(ctx context.Context, ticketID id.TicketID, at time.Time, frames int64, cost types.Money) error
	// ExpireTicket moves active → expired.
	ExpireTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error
	// ExpireTickets expires every active, never-watched ticket whose window
	// closed before the given time and returns them.
	ExpireTickets(ctx context.Context, before time.Time) ([]*ticket.Ticket, error)

	// Meter methods
	IngestBatch(ctx context.Context, events []*meter.UsageEvent) error
	QueryUsage(ctx context.Context, ticketID id.TicketID, opts meter.QueryOpts) ([]*meter.UsageEvent, error)

	// Digest methods
	CreateDigest(ctx context.Context, d *digest.Digest) error
	GetDigest(ctx context.Context, digestID id.DigestID) (*digest.Digest, error)
	GetDigestByTicket(ctx context.Context, ticketID id.TicketID) (*digest.Digest, error)
	// MarkDigestDelivered sets sent_to_owner and sent_at together, once.
	MarkDigestDelivered(ctx context.Context, digestID id.DigestID, at time.Time) error
	ListUndeliveredDigests(ctx context.Context, limit int) ([]*digest.Digest, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
