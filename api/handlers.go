package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bunrouter"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// purchaseMessage is returned with every payment challenge.
const purchaseMessage = "Complete the payment, then confirm the ticket"

// ──────────────────────────────────────────────────
// Views
// ──────────────────────────────────────────────────

type agentView struct {
	AgentID            string     `json:"agent_id"`
	WalletAddress      string     `json:"wallet_address"`
	Balance            string     `json:"balance"`
	Currency           string     `json:"currency"`
	BalanceRefreshedAt *time.Time `json:"balance_refreshed_at,omitempty"`
	OwnerRef           string     `json:"owner_ref,omitempty"`
	OwnerEmail         string     `json:"owner_email,omitempty"`
	Verified           bool       `json:"verified"`
	CreatedAt          time.Time  `json:"created_at"`
}

func viewAgent(a *agent.Agent) agentView {
	return agentView{
		AgentID:            a.AgentID,
		WalletAddress:      a.WalletAddress,
		Balance:            a.Balance.FormatMajor(),
		Currency:           strings.ToUpper(a.Balance.Currency),
		BalanceRefreshedAt: a.BalanceRefreshedAt,
		OwnerRef:           a.OwnerRef,
		OwnerEmail:         a.OwnerEmail,
		Verified:           a.Verified,
		CreatedAt:          a.CreatedAt,
	}
}

type streamView struct {
	StreamID    string    `json:"stream_id"`
	URL         string    `json:"stream_url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id,omitempty"`
	Price       string    `json:"ticket_price"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewStream(s *stream.Stream) streamView {
	return streamView{
		StreamID:    s.ID.String(),
		URL:         s.URL,
		Title:       s.Title,
		Description: s.Description,
		OwnerID:     s.OwnerID,
		Price:       s.Price.FormatMajor(),
		Currency:    strings.ToUpper(s.Price.Currency),
		Active:      s.Active,
		CreatedAt:   s.CreatedAt,
	}
}

type ticketView struct {
	TicketID       string     `json:"ticket_id"`
	AgentID        string     `json:"agent_id"`
	StreamURL      string     `json:"stream_url"`
	StreamTitle    string     `json:"stream_title"`
	PaymentRef     string     `json:"payment_reference"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	PaymentStatus  string     `json:"payment_status"`
	Status         string     `json:"status"`
	PurchasedAt    time.Time  `json:"purchased_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	WatchStartedAt *time.Time `json:"watch_started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	FrameCount     int64      `json:"frame_count"`
	MeteredCost    string     `json:"metered_cost"`
}

func viewTicket(t *ticket.Ticket) ticketView {
	return ticketView{
		TicketID:       t.ID.String(),
		AgentID:        t.AgentID,
		StreamURL:      t.StreamURL,
		StreamTitle:    t.StreamTitle,
		PaymentRef:     t.PaymentRef.String(),
		Amount:         t.Amount.FormatMajor(),
		Currency:       strings.ToUpper(t.Amount.Currency),
		PaymentStatus:  string(t.PaymentStatus),
		Status:         string(t.Status),
		PurchasedAt:    t.PurchasedAt,
		PaidAt:         t.PaidAt,
		ExpiresAt:      t.ExpiresAt,
		WatchStartedAt: t.WatchStartedAt,
		CompletedAt:    t.CompletedAt,
		FrameCount:     t.FrameCount,
		MeteredCost:    t.MeteredCost.FormatMajor(),
	}
}

type usageView struct {
	FrameNumber    int64     `json:"frame_number"`
	Cost           string    `json:"cost"`
	Kinds          []string  `json:"kinds,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type purchaseView struct {
	TicketID   string          `json:"ticket_id"`
	PaymentRef string          `json:"payment_reference"`
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	Network    string          `json:"network"`
	Challenge  json.RawMessage `json:"challenge"`
	Reused     bool            `json:"reused"`
	Message    string          `json:"message"`
}

// ──────────────────────────────────────────────────
// Agents
// ──────────────────────────────────────────────────

type createAgentRequest struct {
	AgentID       string `json:"agent_id" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required"`
	OwnerRef      string `json:"owner_ref"`
	// OwnerTelegramID is accepted as an alias of OwnerRef.
	OwnerTelegramID string `json:"owner_telegram_id"`
	OwnerEmail      string `json:"owner_email" validate:"omitempty,email"`
}

func (s *Server) createAgent(w http.ResponseWriter, req bunrouter.Request) error {
	var body createAgentRequest
	if err := s.decode(req, &body); err != nil {
		return err
	}

	owner := body.OwnerRef
	if owner == "" {
		owner = body.OwnerTelegramID
	}
	a := &agent.Agent{
		AgentID:       body.AgentID,
		WalletAddress: body.WalletAddress,
		OwnerRef:      owner,
		OwnerEmail:    body.OwnerEmail,
	}
	if err := s.booth.RegisterAgent(req.Context(), a); err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, viewAgent(a))
	return nil
}

func (s *Server) getAgent(w http.ResponseWriter, req bunrouter.Request) error {
	a, err := s.booth.GetAgent(req.Context(), req.Param("agent_id"))
	if err != nil {
		return err
	}
	return bunrouter.JSON(w, viewAgent(a))
}

// ──────────────────────────────────────────────────
// Streams
// ──────────────────────────────────────────────────

type createStreamRequest struct {
	URL         string `json:"stream_url" validate:"required,url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	// Price is a decimal amount in Currency, e.g. "0.10".
	Price    string `json:"ticket_price"`
	Currency string `json:"currency" validate:"omitempty,alpha"`
}

func (s *Server) createStream(w http.ResponseWriter, req bunrouter.Request) error {
	var body createStreamRequest
	if err := s.decode(req, &body); err != nil {
		return err
	}

	currency := strings.ToLower(body.Currency)
	if currency == "" {
		currency = types.CurrencyUSDC
	}
	price := ticketbooth.DefaultStreamPrice
	if body.Price != "" {
		p, err := types.ParseMajor(body.Price, currency)
		if err != nil {
			return ticketbooth.ValidationError{Field: "ticket_price", Message: err.Error()}
		}
		price = p
	}

	st := &stream.Stream{
		URL:         body.URL,
		Title:       body.Title,
		Description: body.Description,
		OwnerID:     body.OwnerID,
		Price:       price,
		Active:      true,
	}
	if err := s.booth.CreateStream(req.Context(), st); err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, viewStream(st))
	return nil
}

func (s *Server) listStreams(w http.ResponseWriter, req bunrouter.Request) error {
	limit, offset, err := pageParams(req)
	if err != nil {
		return err
	}
	opts := stream.ListOpts{
		ActiveOnly: req.URL.Query().Get("all") != "true",
		Limit:      limit,
		Offset:     offset,
	}

	streams, err := s.booth.ListStreams(req.Context(), opts)
	if err != nil {
		return err
	}

	out := make([]streamView, len(streams))
	for i, st := range streams {
		out[i] = viewStream(st)
	}
	return bunrouter.JSON(w, out)
}

// ──────────────────────────────────────────────────
// Tickets
// ──────────────────────────────────────────────────

type purchaseRequest struct {
	AgentID   string `json:"agent_id" validate:"required"`
	StreamURL string `json:"stream_url" validate:"required,url"`
}

// purchase answers with 402 Payment Required and the challenge the agent
// has to pay.
func (s *Server) purchase(w http.ResponseWriter, req bunrouter.Request) error {
	var body purchaseRequest
	if err := s.decode(req, &body); err != nil {
		return err
	}

	p, err := s.booth.Purchase(req.Context(), body.AgentID, body.StreamURL)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusPaymentRequired, purchaseView{
		TicketID:   p.TicketID.String(),
		PaymentRef: p.PaymentRef.String(),
		Amount:     p.Amount.FormatMajor(),
		Currency:   strings.ToUpper(p.Amount.Currency),
		Network:    p.Network,
		Challenge:  p.Challenge,
		Reused:     p.Reused,
		Message:    purchaseMessage,
	})
	return nil
}

func (s *Server) getTicket(w http.ResponseWriter, req bunrouter.Request) error {
	ticketID, err := ticketParam(req)
	if err != nil {
		return err
	}
	t, err := s.booth.GetTicket(req.Context(), ticketID)
	if err != nil {
		return err
	}
	return bunrouter.JSON(w, viewTicket(t))
}

func (s *Server) confirm(w http.ResponseWriter, req bunrouter.Request) error {
	ticketID, err := ticketParam(req)
	if err != nil {
		return err
	}
	t, err := s.booth.ConfirmPayment(req.Context(), ticketID)
	if err != nil {
		return err
	}
	return bunrouter.JSON(w, viewTicket(t))
}

func (s *Server) usage(w http.ResponseWriter, req bunrouter.Request) error {
	ticketID, err := ticketParam(req)
	if err != nil {
		return err
	}
	limit, offset, err := pageParams(req)
	if err != nil {
		return err
	}

	events, err := s.booth.TicketUsage(req.Context(), ticketID, meter.QueryOpts{Limit: limit, Offset: offset})
	if err != nil {
		return err
	}

	out := make([]usageView, len(events))
	for i, e := range events {
		out[i] = usageView{
			FrameNumber:    e.FrameNumber,
			Cost:           e.Cost.FormatMajor(),
			Kinds:          e.Kinds,
			Timestamp:      e.Timestamp,
			IdempotencyKey: e.IdempotencyKey,
		}
	}
	return bunrouter.JSON(w, out)
}

// ──────────────────────────────────────────────────
// Digests
// ──────────────────────────────────────────────────

type createDigestRequest struct {
	TicketID  string   `json:"ticket_id" validate:"required"`
	Summary   string   `json:"summary"`
	Insights  []string `json:"insights"`
	Sentiment string   `json:"sentiment"`
	// AnalysisCost is a decimal USDC amount.
	AnalysisCost    string `json:"analysis_cost"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

func (s *Server) createDigest(w http.ResponseWriter, req bunrouter.Request) error {
	var body createDigestRequest
	if err := s.decode(req, &body); err != nil {
		return err
	}

	ticketID, err := id.ParseTicketID(body.TicketID)
	if err != nil {
		return fmt.Errorf("%w: %v", ticketbooth.ErrTicketNotFound, err)
	}

	in := ticketbooth.DigestInput{
		Summary:       body.Summary,
		Insights:      body.Insights,
		Sentiment:     body.Sentiment,
		AnalysisCost:  types.Zero(types.CurrencyUSDC),
		WatchDuration: time.Duration(body.DurationSeconds) * time.Second,
	}
	if body.AnalysisCost != "" {
		cost, err := types.ParseMajor(body.AnalysisCost, types.CurrencyUSDC)
		if err != nil {
			return ticketbooth.ValidationError{Field: "analysis_cost", Message: err.Error()}
		}
		in.AnalysisCost = cost
	}

	d, err := s.booth.CreateDigest(req.Context(), ticketID, in)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, d.View())
	return nil
}

func (s *Server) getDigest(w http.ResponseWriter, req bunrouter.Request) error {
	digestID, err := digestParam(req)
	if err != nil {
		return err
	}
	d, err := s.booth.GetDigest(req.Context(), digestID)
	if err != nil {
		return err
	}
	return bunrouter.JSON(w, d.View())
}

func (s *Server) redeliverDigest(w http.ResponseWriter, req bunrouter.Request) error {
	digestID, err := digestParam(req)
	if err != nil {
		return err
	}
	d, err := s.booth.RedeliverDigest(req.Context(), digestID)
	if err != nil {
		return err
	}
	return bunrouter.JSON(w, d.View())
}

// ──────────────────────────────────────────────────
// Params
// ──────────────────────────────────────────────────

// ticketParam parses the ticket_id path parameter. Malformed IDs cannot
// name a ticket and are reported as not found.
func ticketParam(req bunrouter.Request) (id.TicketID, error) {
	ticketID, err := id.ParseTicketID(req.Param("ticket_id"))
	if err != nil {
		return id.TicketID{}, fmt.Errorf("%w: %v", ticketbooth.ErrTicketNotFound, err)
	}
	return ticketID, nil
}

func digestParam(req bunrouter.Request) (id.DigestID, error) {
	digestID, err := id.ParseDigestID(req.Param("digest_id"))
	if err != nil {
		return id.DigestID{}, fmt.Errorf("%w: %v", ticketbooth.ErrDigestNotFound, err)
	}
	return digestID, nil
}

func pageParams(req bunrouter.Request) (limit, offset int, err error) {
	q := req.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, badRequest("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, badRequest("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}
