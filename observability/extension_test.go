package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

func TestPrometheusFactoryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	a := f.Counter("ticketbooth.ticket.purchased")
	b := f.Counter("ticketbooth.ticket.purchased")
	a.Inc()
	b.Inc()

	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}

	// A second factory on the same registry picks up the existing collector.
	other := NewPrometheusFactory(reg).Counter("ticketbooth.ticket.purchased")
	other.Inc()
	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 3 {
		t.Errorf("counter after second factory = %v, want 3", got)
	}
}

func TestPromName(t *testing.T) {
	tests := map[string]string{
		"ticketbooth.ticket.purchased":     "ticketbooth_ticket_purchased",
		"ticketbooth.digest.delivery-fail": "ticketbooth_digest_delivery_fail",
		"plain":                            "plain",
	}
	for in, want := range tests {
		if got := promName(in); got != want {
			t.Errorf("promName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricsExtensionCounts(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))

	tk := &ticket.Ticket{Amount: types.USDC(100000), FrameCount: 4}
	_ = m.OnTicketPurchased(ctx, tk, false)
	_ = m.OnTicketPurchased(ctx, tk, true)
	_ = m.OnPaymentSettled(ctx, tk)
	_ = m.OnSessionOpened(ctx, tk)
	_ = m.OnSessionClosed(ctx, tk, 90*time.Second)
	_ = m.OnUsageFlushed(ctx, 4, time.Millisecond)

	d := &digest.Digest{TotalCost: types.USDC(4000)}
	_ = m.OnDigestCreated(ctx, d)
	_ = m.OnDigestDeliveryFailed(ctx, d, errors.New("smtp down"))
	_ = m.OnDigestDelivered(ctx, d)

	counters := []struct {
		name string
		c    Counter
		want float64
	}{
		{"purchased", m.TicketsPurchased, 1},
		{"reused", m.TicketsReused, 1},
		{"settled", m.PaymentsSettled, 1},
		{"failed", m.PaymentsFailed, 0},
		{"opened", m.SessionsOpened, 1},
		{"closed", m.SessionsClosed, 1},
		{"flushed", m.UsageFlushed, 4},
		{"digests", m.DigestsCreated, 1},
		{"delivered", m.DigestsDelivered, 1},
		{"delivery_failed", m.DigestDeliveryFailed, 1},
	}
	for _, tt := range counters {
		if got := testutil.ToFloat64(tt.c.(prometheus.Counter)); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	if got := testutil.CollectAndCount(reg, "ticketbooth_session_duration_seconds"); got != 1 {
		t.Errorf("duration histogram series = %d, want 1", got)
	}
}
