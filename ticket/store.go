package ticket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

// Store persists tickets. Every transition is a compare-and-set on the
// current state and reports a conflict when the precondition no longer holds.
type Store interface {
	Create(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, ticketID id.TicketID) (*Ticket, error)
	FindPending(ctx context.Context, agentID, streamURL string) (*Ticket, error)
	SetChallenge(ctx context.Context, ticketID id.TicketID, challenge json.RawMessage, at time.Time) error
	Settle(ctx context.Context, ticketID id.TicketID, paidAt, expiresAt time.Time) error
	Fail(ctx context.Context, ticketID id.TicketID, at time.Time) error
	StartWatching(ctx context.Context, ticketID id.TicketID, at time.Time) error
	Complete(ctx context.Context, ticketID id.TicketID, at time.Time, frames int64, cost types.Money) error
	Expire(ctx context.Context, ticketID id.TicketID, at time.Time) error
	ExpireBefore(ctx context.Context, before time.Time) ([]*Ticket, error)
}
