package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// ==================== Agent models ====================

type agentModel struct {
	grove.BaseModel `grove:"table:ticketbooth_agents"`

	ID                 string     `grove:"id,pk"`
	AgentID            string     `grove:"agent_id"`
	WalletAddress      string     `grove:"wallet_address"`
	BalanceAmount      int64      `grove:"balance_amount"`
	BalanceCurrency    string     `grove:"balance_currency"`
	BalanceRefreshedAt *time.Time `grove:"balance_refreshed_at"`
	OwnerRef           string     `grove:"owner_ref"`
	OwnerEmail         string     `grove:"owner_email"`
	Verified           bool       `grove:"verified"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
}

func toAgentModel(a *agent.Agent) *agentModel {
	return &agentModel{
		ID:                 a.ID.String(),
		AgentID:            a.AgentID,
		WalletAddress:      a.WalletAddress,
		BalanceAmount:      a.Balance.Amount,
		BalanceCurrency:    a.Balance.Currency,
		BalanceRefreshedAt: a.BalanceRefreshedAt,
		OwnerRef:           a.OwnerRef,
		OwnerEmail:         a.OwnerEmail,
		Verified:           a.Verified,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func fromAgentModel(m *agentModel) (*agent.Agent, error) {
	agentID, err := id.ParseAgentID(m.ID)
	if err != nil {
		return nil, err
	}

	return &agent.Agent{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 agentID,
		AgentID:            m.AgentID,
		WalletAddress:      m.WalletAddress,
		Balance:            types.Money{Amount: m.BalanceAmount, Currency: m.BalanceCurrency},
		BalanceRefreshedAt: m.BalanceRefreshedAt,
		OwnerRef:           m.OwnerRef,
		OwnerEmail:         m.OwnerEmail,
		Verified:           m.Verified,
	}, nil
}

// ==================== Stream models ====================

type streamModel struct {
	grove.BaseModel `grove:"table:ticketbooth_streams"`

	ID            string    `grove:"id,pk"`
	URL           string    `grove:"url"`
	Title         string    `grove:"title"`
	Description   string    `grove:"description"`
	OwnerID       string    `grove:"owner_id"`
	PriceAmount   int64     `grove:"price_amount"`
	PriceCurrency string    `grove:"price_currency"`
	Active        bool      `grove:"active"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func toStreamModel(s *stream.Stream) *streamModel {
	return &streamModel{
		ID:            s.ID.String(),
		URL:           s.URL,
		Title:         s.Title,
		Description:   s.Description,
		OwnerID:       s.OwnerID,
		PriceAmount:   s.Price.Amount,
		PriceCurrency: s.Price.Currency,
		Active:        s.Active,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromStreamModel(m *streamModel) (*stream.Stream, error) {
	streamID, err := id.ParseStreamID(m.ID)
	if err != nil {
		return nil, err
	}

	return &stream.Stream{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          streamID,
		URL:         m.URL,
		Title:       m.Title,
		Description: m.Description,
		OwnerID:     m.OwnerID,
		Price:       types.Money{Amount: m.PriceAmount, Currency: m.PriceCurrency},
		Active:      m.Active,
	}, nil
}

// ==================== Ticket models ====================

type ticketModel struct {
	grove.BaseModel `grove:"table:ticketbooth_tickets"`

	ID             string     `grove:"id,pk"`
	AgentID        string     `grove:"agent_id"`
	StreamID       string     `grove:"stream_id"`
	StreamURL      string     `grove:"stream_url"`
	StreamTitle    string     `grove:"stream_title"`
	PaymentRef     string     `grove:"payment_ref"`
	Amount         int64      `grove:"amount"`
	Currency       string     `grove:"currency"`
	PaymentStatus  string     `grove:"payment_status"`
	Status         string     `grove:"status"`
	Challenge      *string    `grove:"challenge"`
	PurchasedAt    time.Time  `grove:"purchased_at"`
	PaidAt         *time.Time `grove:"paid_at"`
	ExpiresAt      *time.Time `grove:"expires_at"`
	WatchStartedAt *time.Time `grove:"watch_started_at"`
	CompletedAt    *time.Time `grove:"completed_at"`
	FrameCount     int64      `grove:"frame_count"`
	MeteredAmount  int64      `grove:"metered_amount"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toTicketModel(t *ticket.Ticket) *ticketModel {
	return &ticketModel{
		ID:             t.ID.String(),
		AgentID:        t.AgentID,
		StreamID:       t.StreamID.String(),
		StreamURL:      t.StreamURL,
		StreamTitle:    t.StreamTitle,
		PaymentRef:     t.PaymentRef.String(),
		Amount:         t.Amount.Amount,
		Currency:       t.Amount.Currency,
		PaymentStatus:  string(t.PaymentStatus),
		Status:         string(t.Status),
		Challenge:      challengeColumn(t.Challenge),
		PurchasedAt:    t.PurchasedAt,
		PaidAt:         t.PaidAt,
		ExpiresAt:      t.ExpiresAt,
		WatchStartedAt: t.WatchStartedAt,
		CompletedAt:    t.CompletedAt,
		FrameCount:     t.FrameCount,
		MeteredAmount:  t.MeteredCost.Amount,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromTicketModel(m *ticketModel) (*ticket.Ticket, error) {
	ticketID, err := id.ParseTicketID(m.ID)
	if err != nil {
		return nil, err
	}
	paymentRef, err := id.ParsePaymentID(m.PaymentRef)
	if err != nil {
		return nil, err
	}

	// Placeholder purchases may predate the stream row they point at.
	var streamID id.StreamID
	if m.StreamID != "" {
		if streamID, err = id.ParseStreamID(m.StreamID); err != nil {
			return nil, err
		}
	}

	var challenge json.RawMessage
	if m.Challenge != nil && *m.Challenge != "" {
		challenge = json.RawMessage(*m.Challenge)
	}

	return &ticket.Ticket{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             ticketID,
		AgentID:        m.AgentID,
		StreamID:       streamID,
		StreamURL:      m.StreamURL,
		StreamTitle:    m.StreamTitle,
		PaymentRef:     paymentRef,
		Amount:         types.Money{Amount: m.Amount, Currency: m.Currency},
		PaymentStatus:  ticket.PaymentStatus(m.PaymentStatus),
		Status:         ticket.Status(m.Status),
		Challenge:      challenge,
		PurchasedAt:    m.PurchasedAt,
		PaidAt:         m.PaidAt,
		ExpiresAt:      m.ExpiresAt,
		WatchStartedAt: m.WatchStartedAt,
		CompletedAt:    m.CompletedAt,
		FrameCount:     m.FrameCount,
		MeteredCost:    types.Money{Amount: m.MeteredAmount, Currency: m.Currency},
	}, nil
}

// ==================== Meter models ====================

type usageEventModel struct {
	grove.BaseModel `grove:"table:ticketbooth_usage_events"`

	ID             string    `grove:"id,pk"`
	TicketID       string    `grove:"ticket_id"`
	AgentID        string    `grove:"agent_id"`
	FrameNumber    int64     `grove:"frame_number"`
	CostAmount     int64     `grove:"cost_amount"`
	CostCurrency   string    `grove:"cost_currency"`
	Kinds          string    `grove:"kinds"`
	Timestamp      time.Time `grove:"timestamp"`
	IdempotencyKey string    `grove:"idempotency_key"`
	CreatedAt      time.Time `grove:"created_at"`
}

func toUsageEventModel(e *meter.UsageEvent) *usageEventModel {
	return &usageEventModel{
		ID:             e.ID.String(),
		TicketID:       e.TicketID.String(),
		AgentID:        e.AgentID,
		FrameNumber:    e.FrameNumber,
		CostAmount:     e.Cost.Amount,
		CostCurrency:   e.Cost.Currency,
		Kinds:          encodeList(e.Kinds),
		Timestamp:      e.Timestamp,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
}

func fromUsageEventModel(m *usageEventModel) (*meter.UsageEvent, error) {
	evtID, err := id.ParseUsageEventID(m.ID)
	if err != nil {
		return nil, err
	}
	ticketID, err := id.ParseTicketID(m.TicketID)
	if err != nil {
		return nil, err
	}

	return &meter.UsageEvent{
		ID:             evtID,
		TicketID:       ticketID,
		AgentID:        m.AgentID,
		FrameNumber:    m.FrameNumber,
		Cost:           types.Money{Amount: m.CostAmount, Currency: m.CostCurrency},
		Kinds:          decodeList(m.Kinds),
		Timestamp:      m.Timestamp,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// ==================== Digest models ====================

type digestModel struct {
	grove.BaseModel `grove:"table:ticketbooth_digests"`

	ID              string     `grove:"id,pk"`
	TicketID        string     `grove:"ticket_id"`
	AgentID         string     `grove:"agent_id"`
	StreamURL       string     `grove:"stream_url"`
	StreamTitle     string     `grove:"stream_title"`
	Summary         string     `grove:"summary"`
	Insights        string     `grove:"insights"`
	Sentiment       string     `grove:"sentiment"`
	WatchDurationMS int64      `grove:"watch_duration_ms"`
	FrameCount      int64      `grove:"frame_count"`
	MeteredAmount   int64      `grove:"metered_amount"`
	AnalysisAmount  int64      `grove:"analysis_amount"`
	TotalAmount     int64      `grove:"total_amount"`
	Currency        string     `grove:"currency"`
	SentToOwner     bool       `grove:"sent_to_owner"`
	SentAt          *time.Time `grove:"sent_at"`
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

func toDigestModel(d *digest.Digest) *digestModel {
	return &digestModel{
		ID:              d.ID.String(),
		TicketID:        d.TicketID.String(),
		AgentID:         d.AgentID,
		StreamURL:       d.StreamURL,
		StreamTitle:     d.StreamTitle,
		Summary:         d.Summary,
		Insights:        encodeList(d.Insights),
		Sentiment:       d.Sentiment,
		WatchDurationMS: d.WatchDuration.Milliseconds(),
		FrameCount:      d.FrameCount,
		MeteredAmount:   d.MeteredCost.Amount,
		AnalysisAmount:  d.AnalysisCost.Amount,
		TotalAmount:     d.TotalCost.Amount,
		Currency:        d.TotalCost.Currency,
		SentToOwner:     d.SentToOwner,
		SentAt:          d.SentAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func fromDigestModel(m *digestModel) (*digest.Digest, error) {
	digestID, err := id.ParseDigestID(m.ID)
	if err != nil {
		return nil, err
	}
	ticketID, err := id.ParseTicketID(m.TicketID)
	if err != nil {
		return nil, err
	}

	return &digest.Digest{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            digestID,
		TicketID:      ticketID,
		AgentID:       m.AgentID,
		StreamURL:     m.StreamURL,
		StreamTitle:   m.StreamTitle,
		Summary:       m.Summary,
		Insights:      decodeList(m.Insights),
		Sentiment:     m.Sentiment,
		WatchDuration: time.Duration(m.WatchDurationMS) * time.Millisecond,
		FrameCount:    m.FrameCount,
		MeteredCost:   types.Money{Amount: m.MeteredAmount, Currency: m.Currency},
		AnalysisCost:  types.Money{Amount: m.AnalysisAmount, Currency: m.Currency},
		TotalCost:     types.Money{Amount: m.TotalAmount, Currency: m.Currency},
		SentToOwner:   m.SentToOwner,
		SentAt:        m.SentAt,
	}, nil
}

// ==================== Column helpers ====================

// SQLite keeps JSON in TEXT columns.

func challengeColumn(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list) //nolint:errcheck // []string always marshals
	return string(b)
}

func decodeList(s string) []string {
	var list []string
	if s != "" {
		_ = json.Unmarshal([]byte(s), &list) //nolint:errcheck // best-effort
	}
	return list
}
