package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xraph/ticketbooth/internal/httpjson"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/types"
)

// Task lists requested per kind.
var defaultTasks = map[pricing.Kind][]string{
	pricing.KindVisual: {"scene_detection", "object_recognition", "person_tracking"},
	pricing.KindAudio:  {"speech_detection", "music_classification", "sentiment"},
	pricing.KindText:   {"sentiment_analysis", "entity_extraction", "topic_classification"},
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the multimodal analysis API.
	BaseURL string
	APIKey  string

	// Rates price calls whose response carries no cost. Defaults to
	// pricing.DefaultRateCard().
	Rates *pricing.RateCard

	HTTPClient *http.Client
	MaxTries   uint
	Logger     *slog.Logger
}

// Client is an Analyzer backed by an HTTP analysis API exposing
// POST {base}/analyze/{visual|audio|text}.
type Client struct {
	http  *httpjson.Client
	rates pricing.RateCard
}

var _ Analyzer = (*Client)(nil)

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analyzer: base url is required")
	}
	rates := pricing.DefaultRateCard()
	if cfg.Rates != nil {
		rates = *cfg.Rates
	}
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Client{
		http: httpjson.New(httpjson.Config{
			BaseURL:    cfg.BaseURL,
			Headers:    headers,
			HTTPClient: cfg.HTTPClient,
			MaxTries:   cfg.MaxTries,
			Logger:     cfg.Logger,
		}),
		rates: rates,
	}, nil
}

type analyzeRequest struct {
	Image string   `json:"image,omitempty"`
	Audio string   `json:"audio,omitempty"`
	Text  string   `json:"text,omitempty"`
	Tasks []string `json:"tasks"`
}

type analyzeResponse struct {
	Description string       `json:"description"`
	Summary     string       `json:"summary"`
	Insights    []string     `json:"insights"`
	KeyInsights []string     `json:"key_insights"`
	Sentiment   string       `json:"sentiment"`
	CostUSDC    *json.Number `json:"cost_usdc"`
}

// Score posts payload to the analysis endpoint for kind.
func (c *Client) Score(ctx context.Context, kind pricing.Kind, payload []byte) (*Result, types.Money, error) {
	req := analyzeRequest{Tasks: defaultTasks[kind]}
	switch kind {
	case pricing.KindVisual:
		req.Image = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(payload)
	case pricing.KindAudio:
		req.Audio = "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(payload)
	case pricing.KindText:
		req.Text = string(payload)
	default:
		return nil, types.Money{}, fmt.Errorf("analyzer: unsupported kind %q", kind)
	}

	raw, err := c.http.DoRaw(ctx, http.MethodPost, "/analyze/"+string(kind), req, httpjson.Idempotent())
	if err != nil {
		return nil, types.Money{}, fmt.Errorf("analyzer: %s: %w", kind, err)
	}

	var resp analyzeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, types.Money{}, fmt.Errorf("analyzer: %s: decode: %w", kind, err)
	}

	res := &Result{
		Kind:        kind,
		Description: firstNonEmpty(resp.Description, resp.Summary),
		Insights:    append(resp.Insights, resp.KeyInsights...),
		Sentiment:   strings.ToLower(resp.Sentiment),
		Raw:         raw,
	}

	cost := c.rates.Estimate(kind)
	if resp.CostUSDC != nil {
		if m, err := types.ParseMajor(resp.CostUSDC.String(), types.CurrencyUSDC); err == nil {
			cost = m
		}
	}
	return res, cost, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
