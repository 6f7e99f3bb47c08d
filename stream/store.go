package stream

import (
	"context"

	"github.com/xraph/ticketbooth/id"
)

type Store interface {
	Create(ctx context.Context, s *Stream) error
	Get(ctx context.Context, streamID id.StreamID) (*Stream, error)
	GetByURL(ctx context.Context, url string) (*Stream, error)
	List(ctx context.Context, opts ListOpts) ([]*Stream, error)
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
