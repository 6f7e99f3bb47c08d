package analyzer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/ticketbooth/analyzer"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/types"
)

func TestClientScoreVisual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze/visual", r.URL.Path)
		assert.Equal(t, "Bearer trio", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		img, _ := body["image"].(string)
		assert.True(t, strings.HasPrefix(img, "data:image/jpeg;base64,"))

		_, _ = w.Write([]byte(`{"description":"a crowd","insights":["goal scored"],"sentiment":"Positive"}`))
	}))
	defer srv.Close()

	c, err := analyzer.NewClient(analyzer.ClientConfig{BaseURL: srv.URL, APIKey: "trio"})
	require.NoError(t, err)

	res, cost, err := c.Score(context.Background(), pricing.KindVisual, []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "a crowd", res.Description)
	assert.Equal(t, []string{"goal scored"}, res.Insights)
	assert.Equal(t, "positive", res.Sentiment)
	assert.Equal(t, types.USDC(10000), cost, "falls back to the rate card")
}

func TestClientScoreReportedCost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello chat", body["text"])
		_, _ = w.Write([]byte(`{"summary":"greeting","key_insights":["friendly"],"cost_usdc":0.0042}`))
	}))
	defer srv.Close()

	c, err := analyzer.NewClient(analyzer.ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	res, cost, err := c.Score(context.Background(), pricing.KindText, []byte("hello chat"))
	require.NoError(t, err)
	assert.Equal(t, "greeting", res.Description)
	assert.Equal(t, []string{"friendly"}, res.Insights)
	assert.Equal(t, types.USDC(4200), cost)
}

func TestClientUnsupportedKind(t *testing.T) {
	c, err := analyzer.NewClient(analyzer.ClientConfig{BaseURL: "http://unused.invalid"})
	require.NoError(t, err)

	_, _, err = c.Score(context.Background(), "smell", nil)
	assert.Error(t, err)
}
