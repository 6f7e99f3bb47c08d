package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/notify"
)

func sampleView() digest.View {
	return digest.View{
		ID:                   "dgst_1",
		TicketID:             "tkt_1",
		AgentID:              "agent-007",
		StreamTitle:          "Finals",
		StreamURL:            "https://example.com/live",
		Summary:              "A close match.",
		Insights:             []string{"late goal", "red card"},
		Sentiment:            "positive",
		WatchDurationSeconds: 600,
		FrameCount:           42,
		MeteredCost:          "0.042",
		AnalysisCost:         "0.01",
		TotalCost:            "0.052",
		Currency:             "usdc",
	}
}

func TestFormatMessage(t *testing.T) {
	msg := notify.FormatMessage(sampleView())

	assert.Contains(t, msg, "A close match.")
	assert.Contains(t, msg, "   • late goal\n")
	assert.Contains(t, msg, "Sentiment: POSITIVE")
	assert.Contains(t, msg, "Watch Duration: 10 minutes")
	assert.Contains(t, msg, "Total Cost: 0.052 USDC")
	assert.Contains(t, msg, "Digest ID: dgst_1")
}

func TestFormatMessageDefaults(t *testing.T) {
	msg := notify.FormatMessage(digest.View{ID: "dgst_2"})

	assert.Contains(t, msg, "No summary available")
	assert.Contains(t, msg, "Sentiment: NEUTRAL")
}

func TestWebhookDeliver(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer api", r.Header.Get("Authorization"))
		assert.Equal(t, "s3cret", r.Header.Get("X-Webhook-Secret"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{URL: srv.URL, APIKey: "api", Secret: "s3cret"})
	require.NoError(t, wh.Deliver(context.Background(), "tg:42", sampleView()))

	assert.Equal(t, "tg:42", got["to"])
	assert.Equal(t, "dgst_1", got["digest_id"])
	assert.Equal(t, "digest_payment_dgst_1", got["payment_reference"])
	assert.Contains(t, got["message"], "STREAM DIGEST")
}

func TestWebhookDeliverFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	wh := notify.NewWebhook(notify.WebhookConfig{URL: srv.URL, MaxTries: 1})
	assert.Error(t, wh.Deliver(context.Background(), "tg:42", sampleView()))
}
