package ticketbooth_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/notify"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/settlement"
	"github.com/xraph/ticketbooth/store/memory"
	"github.com/xraph/ticketbooth/ticket"
)

// TestDocumentationExamples runs the walkthrough from the package docs.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		gateway := settlement.NewSandbox()
		gateway.SetAutoSettle(true)

		booth := ticketbooth.New(memory.New(),
			ticketbooth.WithLogger(slog.Default()),
			ticketbooth.WithGateway(gateway),
			ticketbooth.WithNotifier(notify.Log{}),
			ticketbooth.WithMeterConfig(10, 10*time.Millisecond),
		)

		ctx := context.Background()
		require.NoError(t, booth.Start(ctx))
		defer booth.Stop()

		require.NoError(t, booth.RegisterAgent(ctx, &agent.Agent{
			AgentID:       "agent-7",
			WalletAddress: "0xA11CE",
			OwnerRef:      "owner-1",
		}))

		p, err := booth.Purchase(ctx, "agent-7", "https://example.com/live")
		require.NoError(t, err)
		assert.Equal(t, ticketbooth.USDC(100000), p.Amount)
		assert.NotEmpty(t, p.Challenge)

		tk, err := booth.ConfirmPayment(ctx, p.TicketID)
		require.NoError(t, err)
		assert.Equal(t, ticket.StatusActive, tk.Status)

		s, err := booth.OpenSession(ctx, tk.ID)
		require.NoError(t, err)

		receipt, err := s.RecordUnit(ctx, ticketbooth.Unit{Kinds: []pricing.Kind{pricing.KindVisual}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), receipt.FrameNumber)
		assert.Equal(t, pricing.FrameCost(), receipt.CumulativeCost)

		summary := s.Close(ctx)
		assert.Equal(t, int64(1), summary.FrameCount)

		require.Eventually(t, func() bool {
			d, err := booth.GetDigestByTicket(ctx, tk.ID)
			return err == nil && d.SentToOwner
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("MoneyExample", func(t *testing.T) {
		assert.Equal(t, "0.10", ticketbooth.USDC(100000).FormatMajor())
		assert.Equal(t, ticketbooth.USDC(3000), ticketbooth.MustParseMajor("0.003", "usdc"))
	})
}
