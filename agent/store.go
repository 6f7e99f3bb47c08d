package agent

import (
	"context"
	"time"

	"github.com/xraph/ticketbooth/types"
)

type Store interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, agentID string) (*Agent, error)
	UpdateBalance(ctx context.Context, agentID string, balance types.Money, at time.Time) error
}
