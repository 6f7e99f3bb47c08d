package digest

import (
	"context"
	"time"

	"github.com/xraph/ticketbooth/id"
)

type Store interface {
	Create(ctx context.Context, d *Digest) error
	Get(ctx context.Context, digestID id.DigestID) (*Digest, error)
	GetByTicket(ctx context.Context, ticketID id.TicketID) (*Digest, error)
	MarkDelivered(ctx context.Context, digestID id.DigestID, at time.Time) error
	ListUndelivered(ctx context.Context, limit int) ([]*Digest, error)
}
