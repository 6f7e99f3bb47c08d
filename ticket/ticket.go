// Package ticket defines pay-per-view access tickets and their payment and
// lifecycle states.
//
// A ticket moves pending → active once payment settles, then to completed
// when its watch session ends or to expired when its window lapses unused.
// A failed payment leaves the ticket pending with PaymentFailed. Completed
// tickets never change again.
package ticket

import (
	"encoding/json"
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

// PaymentStatus tracks settlement of the ticket price.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Status is the ticket lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
)

type Ticket struct {
	types.Entity
	ID             id.TicketID     `json:"id"`
	AgentID        string          `json:"agent_id"`
	StreamID       id.StreamID     `json:"stream_id"`
	StreamURL      string          `json:"stream_url"`
	StreamTitle    string          `json:"stream_title"`
	PaymentRef     id.PaymentID    `json:"payment_reference"`
	Amount         types.Money     `json:"amount"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	Status         Status          `json:"status"`
	Challenge      json.RawMessage `json:"-"`
	PurchasedAt    time.Time       `json:"purchased_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	WatchStartedAt *time.Time      `json:"watch_started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	FrameCount     int64           `json:"frame_count"`
	MeteredCost    types.Money     `json:"metered_cost"`
}

// IsExpired reports whether the access window has lapsed at now.
func (t *Ticket) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// IsTerminal reports whether the ticket can no longer transition.
func (t *Ticket) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusExpired
}
