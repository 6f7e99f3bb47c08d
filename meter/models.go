// Package meter records one usage event per metered unit of a watch
// session. Events are buffered by the engine and flushed in batches; the
// ticket's own frame counter stays authoritative.
package meter

import (
	"fmt"
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

type UsageEvent struct {
	ID             id.UsageEventID `json:"id"`
	TicketID       id.TicketID     `json:"ticket_id"`
	AgentID        string          `json:"agent_id"`
	FrameNumber    int64           `json:"frame_number"`
	Cost           types.Money     `json:"cost"`
	Kinds          []string        `json:"kinds,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// IdempotencyKey derives the per-unit key "ticket:frame".
func IdempotencyKey(ticketID id.TicketID, frame int64) string {
	return fmt.Sprintf("%s:%d", ticketID, frame)
}
