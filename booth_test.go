package ticketbooth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/notify"
	"github.com/xraph/ticketbooth/settlement"
	"github.com/xraph/ticketbooth/store/memory"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

const (
	testAgent  = "agent-7"
	testWallet = "0xA11CE"
	testStream = "https://streams.example.com/live/42"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder counts plugin hook calls.
type recorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) inc(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[name]++
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[name]
}

func (r *recorder) OnTicketPurchased(_ context.Context, _ *ticket.Ticket, _ bool) error {
	r.inc("purchased")
	return nil
}

func (r *recorder) OnPaymentSettled(_ context.Context, _ *ticket.Ticket) error {
	r.inc("settled")
	return nil
}

func (r *recorder) OnPaymentFailed(_ context.Context, _ *ticket.Ticket) error {
	r.inc("failed")
	return nil
}

func (r *recorder) OnTicketExpired(_ context.Context, _ *ticket.Ticket) error {
	r.inc("expired")
	return nil
}

func (r *recorder) OnSessionClosed(_ context.Context, _ *ticket.Ticket, _ time.Duration) error {
	r.inc("closed")
	return nil
}

func (r *recorder) OnDigestDeliveryFailed(_ context.Context, _ *digest.Digest, _ error) error {
	r.inc("delivery_failed")
	return nil
}

// outbox is a notifier that records deliveries and can be made to fail.
type outbox struct {
	mu    sync.Mutex
	sent  []digest.View
	owner []string
	err   error
}

func (o *outbox) deliver(_ context.Context, ownerRef string, v digest.View) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, v)
	o.owner = append(o.owner, ownerRef)
	return nil
}

func (o *outbox) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type harness struct {
	booth   *ticketbooth.Booth
	store   *memory.Store
	gateway *settlement.Sandbox
	clock   *clock
	hooks   *recorder
	outbox  *outbox
}

func newHarness(t *testing.T, opts ...ticketbooth.Option) *harness {
	t.Helper()

	h := &harness{
		store:   memory.New(),
		gateway: settlement.NewSandbox(),
		clock:   newClock(),
		hooks:   &recorder{},
		outbox:  &outbox{},
	}

	base := []ticketbooth.Option{
		ticketbooth.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		ticketbooth.WithGateway(h.gateway),
		ticketbooth.WithNotifier(notify.Func(h.outbox.deliver)),
		ticketbooth.WithClock(h.clock.Now),
		ticketbooth.WithPlugin(h.hooks),
		ticketbooth.WithTicketTTL(time.Hour),
	}
	h.booth = ticketbooth.New(h.store, append(base, opts...)...)

	require.NoError(t, h.booth.Start(context.Background()))
	t.Cleanup(func() { _ = h.booth.Stop() })
	return h
}

func (h *harness) registerAgent(t *testing.T, ownerRef string) *agent.Agent {
	t.Helper()
	a := &agent.Agent{AgentID: testAgent, WalletAddress: testWallet, OwnerRef: ownerRef}
	require.NoError(t, h.booth.RegisterAgent(context.Background(), a))
	return a
}

func (h *harness) createStream(t *testing.T, url string, price types.Money, active bool) *stream.Stream {
	t.Helper()
	s := &stream.Stream{URL: url, Title: "Launch Keynote", Price: price, Active: active}
	require.NoError(t, h.booth.CreateStream(context.Background(), s))
	return s
}

// activeTicket registers an agent and stream and returns a paid ticket.
func (h *harness) activeTicket(t *testing.T, ownerRef string) *ticket.Ticket {
	t.Helper()
	ctx := context.Background()

	h.registerAgent(t, ownerRef)
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	h.gateway.Settle(p.PaymentRef.String())

	tk, err := h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusActive, tk.Status)
	return tk
}

// expiredTicket returns a paid ticket that lapsed without being watched.
func (h *harness) expiredTicket(t *testing.T, ownerRef string) *ticket.Ticket {
	t.Helper()
	ctx := context.Background()

	tk := h.activeTicket(t, ownerRef)
	h.clock.Advance(2 * time.Hour)
	_, err := h.booth.ExpireStale(ctx)
	require.NoError(t, err)

	got, err := h.booth.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusExpired, got.Status)
	return got
}

func waitDigest(t *testing.T, b *ticketbooth.Booth, ticketID id.TicketID, cond func(*digest.Digest) bool) *digest.Digest {
	t.Helper()
	var found *digest.Digest
	require.Eventually(t, func() bool {
		d, err := b.GetDigestByTicket(context.Background(), ticketID)
		if err != nil || !cond(d) {
			return false
		}
		found = d
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

// ──────────────────────────────────────────────────
// Agents and streams
// ──────────────────────────────────────────────────

func TestRegisterAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.SetBalance(testWallet, types.USDC(5_000000))

	a := h.registerAgent(t, "")
	assert.Equal(t, id.PrefixAgent, a.ID.Prefix())
	assert.Equal(t, types.USDC(5_000000), a.Balance)
	assert.NotNil(t, a.BalanceRefreshedAt)

	err := h.booth.RegisterAgent(ctx, &agent.Agent{AgentID: testAgent, WalletAddress: testWallet})
	assert.ErrorIs(t, err, ticketbooth.ErrAgentExists)

	err = h.booth.RegisterAgent(ctx, &agent.Agent{AgentID: "agent-8"})
	assert.ErrorIs(t, err, ticketbooth.ErrInvalidInput)
}

func TestGetAgentKeepsCachedBalanceOnGatewayFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.SetBalance(testWallet, types.USDC(1_000000))
	h.registerAgent(t, "")

	h.gateway.SetError(errors.New("rpc down"))
	a, err := h.booth.GetAgent(ctx, testAgent)
	require.NoError(t, err)
	assert.Equal(t, types.USDC(1_000000), a.Balance)
}

func TestCreateStreamValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		s    *stream.Stream
	}{
		{"missing url", &stream.Stream{Price: types.USDC(1)}},
		{"negative price", &stream.Stream{URL: "https://x", Price: types.USDC(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, h.booth.CreateStream(ctx, tt.s), ticketbooth.ErrInvalidInput)
		})
	}

	h.createStream(t, testStream, types.USDC(1), true)
	err := h.booth.CreateStream(ctx, &stream.Stream{URL: testStream})
	assert.ErrorIs(t, err, ticketbooth.ErrStreamExists)
}

// ──────────────────────────────────────────────────
// Purchase
// ──────────────────────────────────────────────────

func TestPurchaseCreatesPendingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)

	assert.False(t, p.Reused)
	assert.Equal(t, types.USDC(250000), p.Amount)
	assert.Equal(t, ticketbooth.DefaultNetwork, p.Network)
	assert.NotEmpty(t, p.Challenge)
	assert.Equal(t, id.PrefixTicket, p.TicketID.Prefix())
	assert.Equal(t, id.PrefixPayment, p.PaymentRef.Prefix())

	tk, err := h.booth.GetTicket(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, tk.Status)
	assert.Equal(t, ticket.PaymentPending, tk.PaymentStatus)
	assert.Equal(t, "Launch Keynote", tk.StreamTitle)
	assert.Equal(t, 1, h.hooks.count("purchased"))
}

func TestPurchaseReusesPendingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	first, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	second, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)

	assert.True(t, second.Reused)
	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, first.PaymentRef, second.PaymentRef)
	assert.JSONEq(t, string(first.Challenge), string(second.Challenge))
	assert.Equal(t, int64(1), h.gateway.CreateCalls())
}

func TestPurchaseConcurrentCreatesOneTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	const n = 16
	ids := make([]id.TicketID, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.booth.Purchase(ctx, testAgent, testStream)
			if assert.NoError(t, err) {
				ids[i] = p.TicketID
			}
		}()
	}
	wg.Wait()

	for _, tid := range ids[1:] {
		assert.Equal(t, ids[0], tid)
	}
}

func TestPurchasePlaceholderStream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")

	p, err := h.booth.Purchase(ctx, testAgent, "https://unknown.example.com/feed")
	require.NoError(t, err)
	assert.Equal(t, ticketbooth.DefaultStreamPrice, p.Amount)

	st, err := h.store.GetStreamByURL(ctx, "https://unknown.example.com/feed")
	require.NoError(t, err)
	assert.Equal(t, stream.PlaceholderTitle, st.Title)
	assert.True(t, st.Active)
}

func TestPurchaseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("strict streams", func(t *testing.T) {
		h := newHarness(t, ticketbooth.WithStrictStreams())
		h.registerAgent(t, "")
		_, err := h.booth.Purchase(ctx, testAgent, testStream)
		assert.ErrorIs(t, err, ticketbooth.ErrStreamNotFound)
	})

	t.Run("inactive stream", func(t *testing.T) {
		h := newHarness(t)
		h.registerAgent(t, "")
		h.createStream(t, testStream, types.USDC(42), false)

		_, err := h.booth.Purchase(ctx, testAgent, testStream)
		assert.ErrorIs(t, err, ticketbooth.ErrStreamInactive)

		var perr *ticketbooth.PurchaseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, types.USDC(42), perr.Amount)
	})

	t.Run("unknown agent", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.booth.Purchase(ctx, "ghost", testStream)
		assert.ErrorIs(t, err, ticketbooth.ErrAgentNotFound)
	})

	t.Run("missing fields", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.booth.Purchase(ctx, "", testStream)
		assert.ErrorIs(t, err, ticketbooth.ErrInvalidInput)
		_, err = h.booth.Purchase(ctx, testAgent, "")
		assert.ErrorIs(t, err, ticketbooth.ErrInvalidInput)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		h := newHarness(t, ticketbooth.WithBalanceCheck())
		h.registerAgent(t, "")
		h.createStream(t, testStream, types.USDC(250000), true)

		_, err := h.booth.Purchase(ctx, testAgent, testStream)
		assert.ErrorIs(t, err, ticketbooth.ErrInsufficientFunds)
		assert.True(t, ticketbooth.IsPaymentError(err))

		h.gateway.SetBalance(testWallet, types.USDC(1_000000))
		_, err = h.booth.Purchase(ctx, testAgent, testStream)
		assert.NoError(t, err)
	})
}

func TestPurchaseGatewayFailureKeepsPendingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	h.gateway.SetError(errors.New("facilitator down"))
	_, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.ErrorIs(t, err, ticketbooth.ErrUpstreamUnavailable)
	assert.True(t, ticketbooth.IsRetryable(err))

	var perr *ticketbooth.PurchaseError
	require.ErrorAs(t, err, &perr)
	require.False(t, perr.TicketID.IsNil())

	h.gateway.SetError(nil)
	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	assert.True(t, p.Reused)
	assert.Equal(t, perr.TicketID, p.TicketID)
	assert.NotEmpty(t, p.Challenge)
}

// ──────────────────────────────────────────────────
// Payment confirmation
// ──────────────────────────────────────────────────

func TestConfirmPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)

	tk, err := h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, tk.Status)

	h.gateway.Settle(p.PaymentRef.String())
	tk, err = h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusActive, tk.Status)
	assert.Equal(t, ticket.PaymentPaid, tk.PaymentStatus)
	require.NotNil(t, tk.PaidAt)
	require.NotNil(t, tk.ExpiresAt)
	assert.Equal(t, tk.PurchasedAt.Add(time.Hour), *tk.ExpiresAt)

	verifies := h.gateway.VerifyCalls()
	again, err := h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusActive, again.Status)
	assert.Equal(t, verifies, h.gateway.VerifyCalls())
	assert.Equal(t, 1, h.hooks.count("settled"))

	// A settled ticket is no longer reused by purchase.
	next, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	assert.False(t, next.Reused)
	assert.NotEqual(t, p.TicketID, next.TicketID)
}

func TestConfirmPaymentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	h.gateway.Fail(p.PaymentRef.String())

	tk, err := h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.PaymentFailed, tk.PaymentStatus)
	assert.Equal(t, 1, h.hooks.count("failed"))

	_, err = h.booth.OpenSession(ctx, p.TicketID)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketNotActive)
	assert.ErrorIs(t, err, ticketbooth.ErrPaymentFailed)
}

func TestConfirmPaymentConcurrent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	h.gateway.Settle(p.PaymentRef.String())

	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := h.booth.ConfirmPayment(ctx, p.TicketID)
			if assert.NoError(t, err) {
				assert.Equal(t, ticket.StatusActive, tk.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.hooks.count("settled"))
}

func TestConfirmPaymentGatewayError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)

	h.gateway.SetError(errors.New("timeout"))
	_, err = h.booth.ConfirmPayment(ctx, p.TicketID)
	assert.ErrorIs(t, err, ticketbooth.ErrUpstreamUnavailable)

	tk, err := h.booth.GetTicket(ctx, p.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.PaymentPending, tk.PaymentStatus)
}

func TestConfirmPaymentUnknownTicket(t *testing.T) {
	h := newHarness(t)
	_, err := h.booth.ConfirmPayment(context.Background(), id.NewTicketID())
	assert.ErrorIs(t, err, ticketbooth.ErrTicketNotFound)
}

// ──────────────────────────────────────────────────
// Expiry
// ──────────────────────────────────────────────────

func TestExpireStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	n, err := h.booth.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.booth.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.booth.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := h.booth.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusExpired, got.Status)
	assert.Equal(t, 1, h.hooks.count("expired"))
}
