// Package digest defines the immutable post-watch summary produced when a
// watch session ends.
package digest

import (
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/types"
)

// Sentiment values reported by analysis.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Digest summarises one completed ticket. Only SentToOwner and SentAt ever
// change after creation, and they change together.
type Digest struct {
	types.Entity
	ID            id.DigestID   `json:"id"`
	TicketID      id.TicketID   `json:"ticket_id"`
	AgentID       string        `json:"agent_id"`
	StreamURL     string        `json:"stream_url"`
	StreamTitle   string        `json:"stream_title"`
	Summary       string        `json:"summary"`
	Insights      []string      `json:"insights"`
	Sentiment     string        `json:"sentiment"`
	WatchDuration time.Duration `json:"watch_duration"`
	FrameCount    int64         `json:"frame_count"`
	MeteredCost   types.Money   `json:"metered_cost"`
	AnalysisCost  types.Money   `json:"analysis_cost"`
	TotalCost     types.Money   `json:"total_cost"`
	SentToOwner   bool          `json:"sent_to_owner"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
}

// View is the wire shape of a digest handed to notifiers and HTTP callers.
// Costs are decimal strings in the digest currency.
type View struct {
	ID                   string    `json:"digest_id"`
	TicketID             string    `json:"ticket_id"`
	AgentID              string    `json:"agent_id"`
	StreamURL            string    `json:"stream_url"`
	StreamTitle          string    `json:"stream_title"`
	Summary              string    `json:"summary"`
	Insights             []string  `json:"insights"`
	Sentiment            string    `json:"sentiment"`
	WatchDurationSeconds int64     `json:"watch_duration_seconds"`
	FrameCount           int64     `json:"frame_count"`
	MeteredCost          string    `json:"metered_cost"`
	AnalysisCost         string    `json:"analysis_cost"`
	TotalCost            string    `json:"total_cost"`
	Currency             string    `json:"currency"`
	SentToOwner          bool      `json:"sent_to_owner"`
	CreatedAt            time.Time `json:"created_at"`
}

// View renders d for delivery.
func (d *Digest) View() View {
	insights := d.Insights
	if insights == nil {
		insights = []string{}
	}
	return View{
		ID:                   d.ID.String(),
		TicketID:             d.TicketID.String(),
		AgentID:              d.AgentID,
		StreamURL:            d.StreamURL,
		StreamTitle:          d.StreamTitle,
		Summary:              d.Summary,
		Insights:             insights,
		Sentiment:            d.Sentiment,
		WatchDurationSeconds: int64(d.WatchDuration / time.Second),
		FrameCount:           d.FrameCount,
		MeteredCost:          d.MeteredCost.FormatMajor(),
		AnalysisCost:         d.AnalysisCost.FormatMajor(),
		TotalCost:            d.TotalCost.FormatMajor(),
		Currency:             d.TotalCost.Currency,
		SentToOwner:          d.SentToOwner,
		CreatedAt:            d.CreatedAt,
	}
}
