package ticketbooth

import (
	"context"
	"strings"

	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/types"
)

// ──────────────────────────────────────────────────
// Agents
// ──────────────────────────────────────────────────

// RegisterAgent registers a new agent. The wallet address is required; the
// initial balance is fetched from the gateway when one is configured.
func (b *Booth) RegisterAgent(ctx context.Context, a *agent.Agent) error {
	a.AgentID = strings.TrimSpace(a.AgentID)
	a.WalletAddress = strings.TrimSpace(a.WalletAddress)
	if a.AgentID == "" {
		return ValidationError{Field: "agent_id", Message: "required"}
	}
	if a.WalletAddress == "" {
		return ValidationError{Field: "wallet_address", Message: "required"}
	}

	if a.ID.IsNil() {
		a.ID = id.NewAgentID()
	}
	a.Entity = b.newEntity()
	a.Balance = types.Zero(types.CurrencyUSDC)

	if b.gateway != nil {
		cctx, cancel := b.callCtx(ctx)
		balance, err := b.gateway.Balance(cctx, a.WalletAddress)
		cancel()
		if err != nil {
			b.logger.Warn("initial balance lookup failed",
				"agent_id", a.AgentID,
				"error", err,
			)
		} else {
			now := b.now()
			a.Balance = balance
			a.BalanceRefreshedAt = &now
		}
	}

	if err := b.store.CreateAgent(ctx, a); err != nil {
		return err
	}

	b.logger.Info("agent registered",
		"agent_id", a.AgentID,
		"wallet_address", a.WalletAddress,
	)
	return nil
}

// GetAgent retrieves an agent and refreshes its cached balance. A failed
// refresh keeps the previous cached value.
func (b *Booth) GetAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	a, err := b.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if _, err := b.refreshBalance(ctx, a); err != nil {
		b.logger.Warn("balance refresh failed",
			"agent_id", agentID,
			"error", err,
		)
	}
	return a, nil
}

// refreshBalance reads the wallet balance and updates the cache on a.
func (b *Booth) refreshBalance(ctx context.Context, a *agent.Agent) (types.Money, error) {
	if b.gateway == nil {
		return a.Balance, upstream("balance", errNoGateway)
	}

	cctx, cancel := b.callCtx(ctx)
	balance, err := b.gateway.Balance(cctx, a.WalletAddress)
	cancel()
	if err != nil {
		return a.Balance, upstream("balance", err)
	}

	now := b.now()
	if err := b.store.UpdateAgentBalance(ctx, a.AgentID, balance, now); err != nil {
		return a.Balance, err
	}
	a.Balance = balance
	a.BalanceRefreshedAt = &now
	return balance, nil
}

// ──────────────────────────────────────────────────
// Streams
// ──────────────────────────────────────────────────

// CreateStream adds a stream to the catalogue.
func (b *Booth) CreateStream(ctx context.Context, s *stream.Stream) error {
	s.URL = strings.TrimSpace(s.URL)
	if s.URL == "" {
		return ValidationError{Field: "url", Message: "required"}
	}
	if s.Price.Currency == "" {
		s.Price.Currency = types.CurrencyUSDC
	}
	if s.Price.IsNegative() {
		return ValidationError{Field: "price", Message: "must not be negative"}
	}
	if s.Title == "" {
		s.Title = s.URL
	}
	if s.ID.IsNil() {
		s.ID = id.NewStreamID()
	}
	s.Entity = b.newEntity()

	return b.store.CreateStream(ctx, s)
}

// GetStream retrieves a stream by ID.
func (b *Booth) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	return b.store.GetStream(ctx, streamID)
}

// ListStreams lists catalogue streams.
func (b *Booth) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	return b.store.ListStreams(ctx, opts)
}
