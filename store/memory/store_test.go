package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pendingTicket(agentID, url string) *ticket.Ticket {
	return &ticket.Ticket{
		ID:            id.NewTicketID(),
		AgentID:       agentID,
		StreamURL:     url,
		PaymentRef:    id.NewPaymentID(),
		Amount:        types.USDC(100000),
		PaymentStatus: ticket.PaymentPending,
		Status:        ticket.StatusPending,
		PurchasedAt:   t0,
		MeteredCost:   types.Zero(types.CurrencyUSDC),
	}
}

func TestAgentUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := &agent.Agent{ID: id.NewAgentID(), AgentID: "a1", WalletAddress: "0x1"}
	if err := s.CreateAgent(ctx, a); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if err := s.CreateAgent(ctx, a); !errors.Is(err, ticketbooth.ErrAgentExists) {
		t.Errorf("duplicate CreateAgent() error = %v, want ErrAgentExists", err)
	}

	if err := s.UpdateAgentBalance(ctx, "a1", types.USDC(7), t0); err != nil {
		t.Fatalf("UpdateAgentBalance() error = %v", err)
	}
	got, err := s.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Balance != types.USDC(7) {
		t.Errorf("Balance = %v, want 0.000007 USDC", got.Balance)
	}
	if err := s.UpdateAgentBalance(ctx, "ghost", types.USDC(1), t0); !errors.Is(err, ticketbooth.ErrAgentNotFound) {
		t.Errorf("UpdateAgentBalance(ghost) error = %v, want ErrAgentNotFound", err)
	}
}

func TestStreamsByURL(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i, url := range []string{"https://a", "https://b", "https://c"} {
		st := &stream.Stream{
			Entity: types.Entity{CreatedAt: t0.Add(time.Duration(i) * time.Minute)},
			ID:     id.NewStreamID(),
			URL:    url,
			Active: i != 1,
		}
		if err := s.CreateStream(ctx, st); err != nil {
			t.Fatalf("CreateStream(%s) error = %v", url, err)
		}
	}

	dup := &stream.Stream{ID: id.NewStreamID(), URL: "https://a"}
	if err := s.CreateStream(ctx, dup); !errors.Is(err, ticketbooth.ErrStreamExists) {
		t.Errorf("duplicate url error = %v, want ErrStreamExists", err)
	}

	if _, err := s.GetStreamByURL(ctx, "https://z"); !errors.Is(err, ticketbooth.ErrStreamNotFound) {
		t.Errorf("GetStreamByURL(z) error = %v, want ErrStreamNotFound", err)
	}

	active, err := s.ListStreams(ctx, stream.ListOpts{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListStreams() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active streams = %d, want 2", len(active))
	}

	page, err := s.ListStreams(ctx, stream.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListStreams() error = %v", err)
	}
	if len(page) != 1 || page[0].URL != "https://b" {
		t.Errorf("page = %+v, want https://b", page)
	}
}

func TestTicketTransitions(t *testing.T) {
	ctx := context.Background()
	s := New()

	tk := pendingTicket("a1", "https://a")
	if err := s.CreateTicket(ctx, tk); err != nil {
		t.Fatalf("CreateTicket() error = %v", err)
	}

	found, err := s.FindPendingTicket(ctx, "a1", "https://a")
	if err != nil || found.ID.String() != tk.ID.String() {
		t.Fatalf("FindPendingTicket() = %v, %v", found, err)
	}

	if err := s.SetChallenge(ctx, tk.ID, json.RawMessage(`{"x":1}`), t0); err != nil {
		t.Fatalf("SetChallenge() error = %v", err)
	}
	if err := s.StartWatching(ctx, tk.ID, t0); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("StartWatching(pending) error = %v, want conflict", err)
	}

	expires := t0.Add(time.Hour)
	if err := s.SettleTicket(ctx, tk.ID, t0, expires); err != nil {
		t.Fatalf("SettleTicket() error = %v", err)
	}
	if err := s.SettleTicket(ctx, tk.ID, t0, expires); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("second SettleTicket() error = %v, want conflict", err)
	}
	if err := s.FailTicket(ctx, tk.ID, t0); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("FailTicket(paid) error = %v, want conflict", err)
	}
	if _, err := s.FindPendingTicket(ctx, "a1", "https://a"); !errors.Is(err, ticketbooth.ErrTicketNotFound) {
		t.Errorf("FindPendingTicket(after settle) error = %v, want not found", err)
	}

	if err := s.StartWatching(ctx, tk.ID, t0); err != nil {
		t.Fatalf("StartWatching() error = %v", err)
	}
	if err := s.StartWatching(ctx, tk.ID, t0); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("second StartWatching() error = %v, want conflict", err)
	}

	if err := s.CompleteTicket(ctx, tk.ID, t0.Add(time.Minute), 4, types.USDC(4000)); err != nil {
		t.Fatalf("CompleteTicket() error = %v", err)
	}
	if err := s.ExpireTicket(ctx, tk.ID, t0); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("ExpireTicket(completed) error = %v, want conflict", err)
	}

	got, err := s.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket() error = %v", err)
	}
	if got.Status != ticket.StatusCompleted || got.FrameCount != 4 || string(got.Challenge) != `{"x":1}` {
		t.Errorf("ticket = %+v", got)
	}
	if want := t0.Add(time.Minute); !got.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want completion time %v", got.UpdatedAt, want)
	}

	if err := s.SettleTicket(ctx, id.NewTicketID(), t0, expires); !errors.Is(err, ticketbooth.ErrTicketNotFound) {
		t.Errorf("SettleTicket(unknown) error = %v, want not found", err)
	}
}

func TestConcurrentSettleHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	tk := pendingTicket("a1", "https://a")
	_ = s.CreateTicket(ctx, tk)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SettleTicket(ctx, tk.ID, t0, t0.Add(time.Hour)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
}

func TestExpireTickets(t *testing.T) {
	ctx := context.Background()
	s := New()

	stale := pendingTicket("a1", "https://a")
	watching := pendingTicket("a1", "https://b")
	fresh := pendingTicket("a1", "https://c")
	for _, tk := range []*ticket.Ticket{stale, watching, fresh} {
		_ = s.CreateTicket(ctx, tk)
	}
	_ = s.SettleTicket(ctx, stale.ID, t0, t0.Add(time.Hour))
	_ = s.SettleTicket(ctx, watching.ID, t0, t0.Add(time.Hour))
	_ = s.StartWatching(ctx, watching.ID, t0)
	_ = s.SettleTicket(ctx, fresh.ID, t0, t0.Add(3*time.Hour))

	expired, err := s.ExpireTickets(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ExpireTickets() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID.String() != stale.ID.String() {
		t.Fatalf("expired = %+v, want only the stale ticket", expired)
	}
	if expired[0].Status != ticket.StatusExpired {
		t.Errorf("expired status = %s", expired[0].Status)
	}
	if want := t0.Add(2 * time.Hour); !expired[0].UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want sweep time %v", expired[0].UpdatedAt, want)
	}
}

func TestIngestBatchDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	tid := id.NewTicketID()

	event := func(frame int64) *meter.UsageEvent {
		return &meter.UsageEvent{
			ID:             id.NewUsageEventID(),
			TicketID:       tid,
			FrameNumber:    frame,
			Cost:           types.USDC(1000),
			IdempotencyKey: meter.IdempotencyKey(tid, frame),
		}
	}

	_ = s.IngestBatch(ctx, []*meter.UsageEvent{event(2), event(1)})
	_ = s.IngestBatch(ctx, []*meter.UsageEvent{event(2), event(3)})

	events, err := s.QueryUsage(ctx, tid, meter.QueryOpts{})
	if err != nil {
		t.Fatalf("QueryUsage() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, e := range events {
		if e.FrameNumber != int64(i+1) {
			t.Errorf("events[%d].FrameNumber = %d", i, e.FrameNumber)
		}
	}

	page, _ := s.QueryUsage(ctx, tid, meter.QueryOpts{Limit: 2, Offset: 2})
	if len(page) != 1 || page[0].FrameNumber != 3 {
		t.Errorf("page = %+v, want frame 3", page)
	}
}

func TestDigests(t *testing.T) {
	ctx := context.Background()
	s := New()
	tid := id.NewTicketID()

	d := &digest.Digest{
		Entity:   types.Entity{CreatedAt: t0},
		ID:       id.NewDigestID(),
		TicketID: tid,
		Insights: []string{"a"},
	}
	if err := s.CreateDigest(ctx, d); err != nil {
		t.Fatalf("CreateDigest() error = %v", err)
	}
	d.Insights[0] = "mutated"

	again := &digest.Digest{ID: id.NewDigestID(), TicketID: tid}
	if err := s.CreateDigest(ctx, again); !errors.Is(err, ticketbooth.ErrDigestExists) {
		t.Errorf("second CreateDigest() error = %v, want ErrDigestExists", err)
	}

	got, err := s.GetDigestByTicket(ctx, tid)
	if err != nil {
		t.Fatalf("GetDigestByTicket() error = %v", err)
	}
	if got.Insights[0] != "a" {
		t.Errorf("stored insights aliased caller slice: %v", got.Insights)
	}

	pending, _ := s.ListUndeliveredDigests(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("undelivered = %d, want 1", len(pending))
	}

	if err := s.MarkDigestDelivered(ctx, d.ID, t0); err != nil {
		t.Fatalf("MarkDigestDelivered() error = %v", err)
	}
	if err := s.MarkDigestDelivered(ctx, d.ID, t0); !errors.Is(err, ticketbooth.ErrTransitionConflict) {
		t.Errorf("second MarkDigestDelivered() error = %v, want conflict", err)
	}
	if err := s.MarkDigestDelivered(ctx, id.NewDigestID(), t0); !errors.Is(err, ticketbooth.ErrDigestNotFound) {
		t.Errorf("MarkDigestDelivered(unknown) error = %v, want not found", err)
	}

	pending, _ = s.ListUndeliveredDigests(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("undelivered = %d, want 0", len(pending))
	}
}
