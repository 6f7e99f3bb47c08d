package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

type memRecorder struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
}

func (m *memRecorder) Record(_ context.Context, e *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

func sampleTicket() *ticket.Ticket {
	return &ticket.Ticket{
		ID:          id.NewTicketID(),
		AgentID:     "agent-1",
		StreamURL:   "https://stream.example/live",
		PaymentRef:  id.NewPaymentID(),
		Amount:      types.USDC(100000),
		FrameCount:  3,
		MeteredCost: types.USDC(3000),
	}
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	e := New(rec, quiet())

	tk := sampleTicket()
	d := &digest.Digest{ID: id.NewDigestID(), TicketID: tk.ID, AgentID: tk.AgentID, TotalCost: types.USDC(5000)}

	_ = e.OnTicketPurchased(ctx, tk, false)
	_ = e.OnTicketPurchased(ctx, tk, true)
	_ = e.OnPaymentSettled(ctx, tk)
	_ = e.OnSessionOpened(ctx, tk)
	_ = e.OnSessionClosed(ctx, tk, 90*time.Second)
	_ = e.OnDigestCreated(ctx, d)
	_ = e.OnDigestDeliveryFailed(ctx, d, errors.New("webhook 500"))

	want := []string{
		ActionTicketPurchased,
		ActionTicketReused,
		ActionPaymentSettled,
		ActionSessionOpened,
		ActionSessionClosed,
		ActionDigestCreated,
		ActionDigestDeliveryFailed,
	}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("actions[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	settled := rec.events[2]
	if settled.ResourceID != tk.PaymentRef.String() || settled.Metadata["amount"] != "0.10" {
		t.Errorf("settled event = %+v", settled)
	}

	closed := rec.events[4]
	if closed.Metadata["duration_seconds"] != int64(90) || closed.Metadata["frame_count"] != int64(3) {
		t.Errorf("closed metadata = %v", closed.Metadata)
	}

	failed := rec.events[6]
	if failed.Outcome != OutcomeFailure || failed.Reason != "webhook 500" || failed.Metadata["error"] != "webhook 500" {
		t.Errorf("failed event = %+v", failed)
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	tk := sampleTicket()

	tests := []struct {
		name string
		opts []Option
		want int
	}{
		{name: "all", want: 3},
		{name: "enabled", opts: []Option{WithEnabledActions(ActionPaymentSettled)}, want: 1},
		{name: "disabled", opts: []Option{WithDisabledActions(ActionSessionOpened)}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memRecorder{}
			e := New(rec, append([]Option{quiet()}, tt.opts...)...)

			_ = e.OnTicketPurchased(ctx, tk, false)
			_ = e.OnPaymentSettled(ctx, tk)
			_ = e.OnSessionOpened(ctx, tk)

			if got := len(rec.actions()); got != tt.want {
				t.Errorf("recorded = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	rec := &memRecorder{err: errors.New("audit store down")}
	e := New(rec, quiet())

	if err := e.OnTicketExpired(context.Background(), sampleTicket()); err != nil {
		t.Errorf("OnTicketExpired() error = %v, want nil", err)
	}
}
