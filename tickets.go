package ticketbooth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/settlement"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// Purchase is the payment challenge returned for a ticket purchase.
type Purchase struct {
	TicketID   id.TicketID     `json:"ticket_id"`
	PaymentRef id.PaymentID    `json:"payment_reference"`
	Amount     types.Money     `json:"amount"`
	Network    string          `json:"network"`
	Challenge  json.RawMessage `json:"challenge"`
	// Reused is true when an existing pending ticket was returned.
	Reused bool           `json:"reused"`
	Ticket *ticket.Ticket `json:"-"`
}

// PurchaseError reports a purchase failure once the price is known.
type PurchaseError struct {
	Amount   types.Money
	TicketID id.TicketID
	Err      error
}

func (e *PurchaseError) Error() string { return e.Err.Error() }

func (e *PurchaseError) Unwrap() error { return e.Err }

// ──────────────────────────────────────────────────
// Purchase
// ──────────────────────────────────────────────────

// Purchase starts a ticket purchase for agentID on streamURL and returns
// the payment challenge. A pending ticket for the same pair is reused, and
// a challenge already stored on it is returned without calling the gateway.
func (b *Booth) Purchase(ctx context.Context, agentID, streamURL string) (*Purchase, error) {
	if agentID == "" {
		return nil, ValidationError{Field: "agent_id", Message: "required"}
	}
	if streamURL == "" {
		return nil, ValidationError{Field: "stream_url", Message: "required"}
	}

	a, err := b.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	st, err := b.resolveStream(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, &PurchaseError{Amount: st.Price, Err: ErrStreamInactive}
	}

	if b.balanceCheck {
		if err := b.checkBalance(ctx, a, st.Price); err != nil {
			return nil, &PurchaseError{Amount: st.Price, Err: err}
		}
	}

	t, reused, err := b.findOrCreatePending(ctx, a, st)
	if err != nil {
		return nil, &PurchaseError{Amount: st.Price, Err: err}
	}

	if len(t.Challenge) == 0 {
		challenge, err := b.challenge(ctx, a, t)
		if err != nil {
			return nil, &PurchaseError{Amount: t.Amount, TicketID: t.ID, Err: err}
		}
		t.Challenge = challenge
	}

	b.plugins.EmitTicketPurchased(ctx, t, reused)

	b.logger.Info("ticket purchase started",
		"ticket_id", t.ID.String(),
		"agent_id", t.AgentID,
		"stream_url", t.StreamURL,
		"amount", t.Amount.String(),
		"reused", reused,
	)

	return &Purchase{
		TicketID:   t.ID,
		PaymentRef: t.PaymentRef,
		Amount:     t.Amount,
		Network:    b.network,
		Challenge:  t.Challenge,
		Reused:     reused,
		Ticket:     t,
	}, nil
}

// resolveStream looks up streamURL, pricing an unknown URL as a placeholder
// stream unless strict streams are enabled.
func (b *Booth) resolveStream(ctx context.Context, streamURL string) (*stream.Stream, error) {
	st, err := b.store.GetStreamByURL(ctx, streamURL)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrStreamNotFound) || b.strictStreams {
		return nil, err
	}

	st = stream.Placeholder(streamURL, b.defaultStreamPrice)
	st.ID = id.NewStreamID()
	st.Entity = b.newEntity()

	if err := b.store.CreateStream(ctx, st); err != nil {
		if errors.Is(err, ErrStreamExists) {
			return b.store.GetStreamByURL(ctx, streamURL)
		}
		return nil, err
	}

	b.logger.Info("placeholder stream created",
		"stream_id", st.ID.String(),
		"stream_url", streamURL,
		"price", st.Price.String(),
	)
	return st, nil
}

func (b *Booth) checkBalance(ctx context.Context, a *agent.Agent, price types.Money) error {
	balance, err := b.refreshBalance(ctx, a)
	if err != nil {
		return err
	}
	if balance.Currency != price.Currency || balance.LessThan(price) {
		return fmt.Errorf("%w: balance %s, price %s", ErrInsufficientFunds, balance.String(), price.String())
	}
	return nil
}

// findOrCreatePending returns the pending ticket for the agent and stream,
// creating one if none exists. Only the store lookup and insert run under
// the per-pair lock.
func (b *Booth) findOrCreatePending(ctx context.Context, a *agent.Agent, st *stream.Stream) (*ticket.Ticket, bool, error) {
	unlock := b.purchaseLocks.lock(a.AgentID + "|" + st.URL)
	defer unlock()

	t, err := b.store.FindPendingTicket(ctx, a.AgentID, st.URL)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, ErrTicketNotFound) {
		return nil, false, err
	}

	now := b.now()
	t = &ticket.Ticket{
		Entity:        types.EntityAt(now),
		ID:            id.NewTicketID(),
		AgentID:       a.AgentID,
		StreamID:      st.ID,
		StreamURL:     st.URL,
		StreamTitle:   st.Title,
		PaymentRef:    id.NewPaymentID(),
		Amount:        st.Price,
		PaymentStatus: ticket.PaymentPending,
		Status:        ticket.StatusPending,
		PurchasedAt:   now,
		MeteredCost:   types.Zero(st.Price.Currency),
	}
	if err := b.store.CreateTicket(ctx, t); err != nil {
		return nil, false, err
	}
	return t, false, nil
}

// challenge requests a payment challenge for t, collapsing concurrent
// requests for the same payment reference.
func (b *Booth) challenge(ctx context.Context, a *agent.Agent, t *ticket.Ticket) (json.RawMessage, error) {
	if b.gateway == nil {
		return nil, upstream("create challenge", errNoGateway)
	}

	v, err, _ := b.challenges.Do(t.PaymentRef.String(), func() (any, error) {
		if current, err := b.store.GetTicket(ctx, t.ID); err == nil && len(current.Challenge) > 0 {
			return current.Challenge, nil
		}

		cctx, cancel := b.callCtx(ctx)
		defer cancel()

		raw, err := b.gateway.CreateChallenge(cctx, settlement.ChallengeRequest{
			Reference:   t.PaymentRef.String(),
			Amount:      t.Amount,
			Payer:       a.WalletAddress,
			Payee:       b.treasuryWallet,
			Network:     b.network,
			Description: "ticket for " + t.StreamTitle,
		})
		if err != nil {
			b.logger.Warn("payment challenge failed",
				"ticket_id", t.ID.String(),
				"payment_reference", t.PaymentRef.String(),
				"error", err,
			)
			return nil, upstream("create challenge", err)
		}

		if err := b.store.SetChallenge(ctx, t.ID, raw, b.now()); err != nil && !errors.Is(err, ErrTransitionConflict) {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// ──────────────────────────────────────────────────
// Payment confirmation
// ──────────────────────────────────────────────────

// ConfirmPayment asks the gateway whether the ticket's payment settled and
// applies the verdict. Tickets no longer awaiting payment are returned
// unchanged, so retries are harmless.
func (b *Booth) ConfirmPayment(ctx context.Context, ticketID id.TicketID) (*ticket.Ticket, error) {
	t, err := b.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.PaymentStatus != ticket.PaymentPending {
		return t, nil
	}
	if b.gateway == nil {
		return nil, upstream("verify payment", errNoGateway)
	}

	v, err, _ := b.verifications.Do(ticketID.String(), func() (any, error) {
		cctx, cancel := b.callCtx(ctx)
		verdict, err := b.gateway.Verify(cctx, t.PaymentRef.String())
		cancel()
		if err != nil {
			b.logger.Warn("payment verification failed",
				"ticket_id", t.ID.String(),
				"payment_reference", t.PaymentRef.String(),
				"error", err,
			)
			return nil, upstream("verify payment", err)
		}
		return b.applyVerdict(ctx, t, verdict)
	})
	if err != nil {
		return nil, err
	}

	cp := *v.(*ticket.Ticket)
	return &cp, nil
}

func (b *Booth) applyVerdict(ctx context.Context, t *ticket.Ticket, verdict settlement.Verdict) (*ticket.Ticket, error) {
	var err error
	switch verdict {
	case settlement.Settled:
		paidAt := b.now()
		err = b.store.SettleTicket(ctx, t.ID, paidAt, t.PurchasedAt.Add(b.ticketTTL))
	case settlement.Failed:
		err = b.store.FailTicket(ctx, t.ID, b.now())
	default:
		return t, nil
	}

	if err != nil && !errors.Is(err, ErrTransitionConflict) {
		return nil, err
	}

	updated, getErr := b.store.GetTicket(ctx, t.ID)
	if getErr != nil {
		return nil, getErr
	}
	if err != nil {
		// Another caller applied a verdict first.
		return updated, nil
	}

	if verdict == settlement.Settled {
		b.plugins.EmitPaymentSettled(ctx, updated)
		b.logger.Info("payment settled",
			"ticket_id", updated.ID.String(),
			"agent_id", updated.AgentID,
			"expires_at", updated.ExpiresAt,
		)
	} else {
		b.plugins.EmitPaymentFailed(ctx, updated)
		b.logger.Warn("payment failed",
			"ticket_id", updated.ID.String(),
			"agent_id", updated.AgentID,
		)
	}
	return updated, nil
}

// ──────────────────────────────────────────────────
// Queries and expiry
// ──────────────────────────────────────────────────

// GetTicket retrieves a ticket by ID.
func (b *Booth) GetTicket(ctx context.Context, ticketID id.TicketID) (*ticket.Ticket, error) {
	return b.store.GetTicket(ctx, ticketID)
}

// TicketUsage returns the flushed usage events of a ticket in frame order.
func (b *Booth) TicketUsage(ctx context.Context, ticketID id.TicketID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	if _, err := b.store.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}
	return b.store.QueryUsage(ctx, ticketID, opts)
}

// ExpireStale expires active tickets whose window closed before a session
// was ever opened. It returns the number of tickets expired.
func (b *Booth) ExpireStale(ctx context.Context) (int, error) {
	expired, err := b.store.ExpireTickets(ctx, b.now())
	if err != nil {
		return 0, err
	}
	for _, t := range expired {
		b.plugins.EmitTicketExpired(ctx, t)
	}
	return len(expired), nil
}

func (b *Booth) newEntity() types.Entity {
	return types.EntityAt(b.now())
}
