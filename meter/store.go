package meter

import (
	"context"

	"github.com/xraph/ticketbooth/id"
)

type Store interface {
	IngestBatch(ctx context.Context, events []*UsageEvent) error
	Query(ctx context.Context, ticketID id.TicketID, opts QueryOpts) ([]*UsageEvent, error)
}

type QueryOpts struct {
	Limit  int
	Offset int
}
