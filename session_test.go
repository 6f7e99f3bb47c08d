package ticketbooth_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/analyzer"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

func TestOpenSessionRejectsPendingTicket(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerAgent(t, "")
	h.createStream(t, testStream, types.USDC(250000), true)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)

	_, err = h.booth.OpenSession(ctx, p.TicketID)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketNotActive)
	assert.ErrorIs(t, err, ticketbooth.ErrPaymentPending)
	assert.True(t, ticketbooth.IsNotActive(err))
}

func TestOpenSessionExpiredWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	h.clock.Advance(61 * time.Minute)
	_, err := h.booth.OpenSession(ctx, tk.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketExpired)

	got, err := h.booth.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusExpired, got.Status)

	_, err = h.booth.OpenSession(ctx, tk.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketNotActive)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketExpired)
}

func TestOpenSessionOnlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticketbooth.SessionStreaming, s.State())
	assert.Equal(t, 1, h.booth.LiveSessions())

	_, err = h.booth.OpenSession(ctx, tk.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrSessionExists)

	live, ok := h.booth.LiveSession(tk.ID)
	require.True(t, ok)
	assert.Same(t, s, live)

	s.Close(ctx)
	_, err = h.booth.OpenSession(ctx, tk.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrTicketNotActive)
	assert.Zero(t, h.booth.LiveSessions())
}

func TestRecordUnitMetersEachUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)

	frame := pricing.FrameCost()
	for i := int64(1); i <= 3; i++ {
		r, err := s.RecordUnit(ctx, ticketbooth.Unit{})
		require.NoError(t, err)
		assert.Equal(t, i, r.FrameNumber)
		assert.Equal(t, frame, r.UnitCost)
		assert.Equal(t, frame.Multiply(i), r.CumulativeCost)
	}

	h.clock.Advance(90 * time.Second)
	sum := s.Close(ctx)
	assert.Equal(t, int64(3), sum.FrameCount)
	assert.Equal(t, frame.Multiply(3), sum.CumulativeCost)
	assert.Equal(t, 90*time.Second, sum.Duration)
	assert.Equal(t, ticketbooth.SessionEnded, s.State())

	// Close is idempotent.
	h.clock.Advance(time.Minute)
	assert.Equal(t, sum, s.Close(ctx))

	_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
	assert.ErrorIs(t, err, ticketbooth.ErrSessionEnded)

	got, err := h.booth.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCompleted, got.Status)
	assert.Equal(t, int64(3), got.FrameCount)
	assert.Equal(t, frame.Multiply(3), got.MeteredCost)
	assert.Equal(t, 1, h.hooks.count("closed"))

	require.NoError(t, h.booth.Stop())
	events, err := h.store.QueryUsage(ctx, tk.ID, meter.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.FrameNumber)
		assert.Equal(t, meter.IdempotencyKey(tk.ID, int64(i+1)), e.IdempotencyKey)
	}
}

func TestSessionCloseProducesDigest(t *testing.T) {
	rates := pricing.DefaultRateCard()
	score := analyzer.Func(func(_ context.Context, kind pricing.Kind, payload []byte) (*analyzer.Result, types.Money, error) {
		return &analyzer.Result{
			Kind:        kind,
			Description: string(kind) + ":" + string(payload),
			Insights:    []string{"speaker announces pricing", string(kind) + " insight"},
			Sentiment:   "Positive",
		}, rates.Rate(kind), nil
	})

	h := newHarness(t, ticketbooth.WithAnalyzer(score))
	ctx := context.Background()
	tk := h.activeTicket(t, "owner@example.com")

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	_, err = s.RecordUnit(ctx, ticketbooth.Unit{Payload: []byte("f1"), Kinds: []pricing.Kind{pricing.KindVisual, pricing.KindText}})
	require.NoError(t, err)
	_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
	require.NoError(t, err)
	s.Close(ctx)

	d := waitDigest(t, h.booth, tk.ID, func(d *digest.Digest) bool { return d.SentToOwner })

	assert.Equal(t, int64(2), d.FrameCount)
	assert.Equal(t, pricing.FrameCost().Multiply(2), d.MeteredCost)
	assert.Equal(t, rates.Estimate(pricing.KindVisual, pricing.KindText), d.AnalysisCost)
	assert.Equal(t, d.MeteredCost.Add(d.AnalysisCost), d.TotalCost)
	assert.Equal(t, digest.SentimentPositive, d.Sentiment)
	assert.Contains(t, d.Summary, "visual:f1")
	assert.Contains(t, d.Summary, "text:f1")
	assert.Len(t, d.Insights, 3)
	assert.NotNil(t, d.SentAt)

	require.Equal(t, 1, h.outbox.count())
	assert.Equal(t, "owner@example.com", h.outbox.owner[0])
	assert.Equal(t, d.ID.String(), h.outbox.sent[0].ID)
}

func TestSessionCloseWithoutAnalyzer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	_, err = s.RecordUnit(ctx, ticketbooth.Unit{Payload: []byte("x"), Kinds: []pricing.Kind{pricing.KindAudio}})
	require.NoError(t, err)
	s.Close(ctx)

	d := waitDigest(t, h.booth, tk.ID, func(*digest.Digest) bool { return true })
	assert.True(t, d.AnalysisCost.IsZero())
	assert.Equal(t, digest.SentimentNeutral, d.Sentiment)
	assert.True(t, strings.HasPrefix(d.Summary, "Watched 1 frames"))

	// No owner means nothing is sent.
	assert.False(t, d.SentToOwner)
	assert.Zero(t, h.outbox.count())
	_, err = h.booth.RedeliverDigest(ctx, d.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrNoOwner)
}

func TestStopClosesLiveSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
	require.NoError(t, err)

	require.NoError(t, h.booth.Stop())
	require.NoError(t, h.booth.Stop())

	assert.Equal(t, ticketbooth.SessionEnded, s.State())
	got, err := h.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCompleted, got.Status)
	assert.Equal(t, int64(1), got.FrameCount)

	_, err = h.store.GetDigestByTicket(ctx, tk.ID)
	assert.NoError(t, err)
}

func TestStopRefusesNewWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "")

	h.createStream(t, "https://streams.example.com/live/43", types.USDC(250000), true)
	p, err := h.booth.Purchase(ctx, testAgent, "https://streams.example.com/live/43")
	require.NoError(t, err)
	h.gateway.Settle(p.PaymentRef.String())
	idle, err := h.booth.ConfirmPayment(ctx, p.TicketID)
	require.NoError(t, err)

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
	require.NoError(t, err)

	require.NoError(t, h.booth.Stop())

	_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
	assert.ErrorIs(t, err, ticketbooth.ErrStoreClosed)

	_, err = h.booth.OpenSession(ctx, idle.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrStoreClosed)

	got, err := h.store.GetTicket(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusActive, got.Status)
	assert.Nil(t, got.WatchStartedAt)

	_, err = h.store.GetDigestByTicket(ctx, tk.ID)
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────
// Digests
// ──────────────────────────────────────────────────

func TestCreateDigest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.expiredTicket(t, "owner-1")

	d, err := h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{
		Summary:      "Keynote covered the roadmap.",
		Insights:     []string{"roadmap", " roadmap ", "hiring"},
		Sentiment:    "NEGATIVE",
		AnalysisCost: types.USDC(18000),
	})
	require.NoError(t, err)

	assert.Equal(t, "Keynote covered the roadmap.", d.Summary)
	assert.Equal(t, []string{"roadmap", "hiring"}, d.Insights)
	assert.Equal(t, digest.SentimentNegative, d.Sentiment)
	assert.Equal(t, types.USDC(18000), d.AnalysisCost)
	assert.Equal(t, types.USDC(18000), d.TotalCost)
	assert.True(t, d.SentToOwner)
	assert.Equal(t, 1, h.outbox.count())

	_, err = h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{})
	assert.ErrorIs(t, err, ticketbooth.ErrDigestExists)
	assert.True(t, ticketbooth.IsConflict(err))
}

func TestCreateDigestWaitsForWatchToFinish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.activeTicket(t, "owner-1")

	_, err := h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{Summary: "early"})
	assert.ErrorIs(t, err, ticketbooth.ErrWatchUnfinished)

	s, err := h.booth.OpenSession(ctx, tk.ID)
	require.NoError(t, err)
	for range 3 {
		_, err = s.RecordUnit(ctx, ticketbooth.Unit{})
		require.NoError(t, err)
	}

	_, err = h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{Summary: "mid-stream"})
	assert.ErrorIs(t, err, ticketbooth.ErrWatchUnfinished)
	assert.True(t, ticketbooth.IsConflict(err))

	_, err = h.store.GetDigestByTicket(ctx, tk.ID)
	assert.ErrorIs(t, err, ticketbooth.ErrDigestNotFound, "no digest may exist while the session is live")

	sum := s.Close(ctx)
	assert.Equal(t, int64(3), sum.FrameCount)

	d := waitDigest(t, h.booth, tk.ID, func(*digest.Digest) bool { return true })
	assert.Equal(t, int64(3), d.FrameCount)
	assert.Equal(t, types.USDC(3000), d.MeteredCost)
	assert.NotEqual(t, "mid-stream", d.Summary)

	_, err = h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{})
	assert.ErrorIs(t, err, ticketbooth.ErrDigestExists)
}

func TestCreateDigestRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.expiredTicket(t, "")

	_, err := h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{AnalysisCost: types.USD(100)})
	assert.ErrorIs(t, err, ticketbooth.ErrInvalidInput)

	_, err = h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{AnalysisCost: types.USDC(-5)})
	assert.ErrorIs(t, err, ticketbooth.ErrInvalidInput)

	p, err := h.booth.Purchase(ctx, testAgent, testStream)
	require.NoError(t, err)
	_, err = h.booth.CreateDigest(ctx, p.TicketID, ticketbooth.DigestInput{})
	assert.ErrorIs(t, err, ticketbooth.ErrPaymentPending)
}

func TestDigestRedelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tk := h.expiredTicket(t, "owner-1")

	h.outbox.setErr(errors.New("webhook 502"))
	d, err := h.booth.CreateDigest(ctx, tk.ID, ticketbooth.DigestInput{Summary: "s"})
	require.NoError(t, err)
	assert.False(t, d.SentToOwner)
	assert.Equal(t, 1, h.hooks.count("delivery_failed"))

	n, err := h.booth.RedeliverPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.outbox.setErr(nil)
	n, err = h.booth.RedeliverPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.booth.GetDigest(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.SentToOwner)

	n, err = h.booth.RedeliverPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, h.outbox.count())
}
