package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/xraph/ticketbooth/internal/httpjson"
	"github.com/xraph/ticketbooth/types"
)

// Defaults for the hosted facilitator and balance endpoints.
const (
	DefaultBalanceURL   = "https://api.cdp.coinbase.com/wallets/balance"
	DefaultUSDCContract = "0x833589fCD6eDb6E08f4c7C32D4f71b54bDA02913" // USDC on Base
)

// FacilitatorConfig configures a Facilitator.
type FacilitatorConfig struct {
	// BaseURL of the payment facilitator, e.g. "https://x402.example.com".
	BaseURL string

	// BalanceURL is the wallet balance endpoint. Defaults to DefaultBalanceURL.
	BalanceURL string

	// TokenContract is the USDC contract queried for balances.
	TokenContract string

	APIKey    string
	APISecret string

	HTTPClient *http.Client
	MaxTries   uint
	Logger     *slog.Logger
}

// Facilitator is a Gateway backed by an HTTP payment facilitator.
type Facilitator struct {
	api           *httpjson.Client
	balance       *httpjson.Client
	balanceURL    string
	tokenContract string
}

var _ Gateway = (*Facilitator)(nil)

// NewFacilitator builds a Facilitator from cfg.
func NewFacilitator(cfg FacilitatorConfig) (*Facilitator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("settlement: facilitator base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("settlement: invalid facilitator url: %w", err)
	}
	balanceURL := cfg.BalanceURL
	if balanceURL == "" {
		balanceURL = DefaultBalanceURL
	}
	token := cfg.TokenContract
	if token == "" {
		token = DefaultUSDCContract
	}

	return &Facilitator{
		api: httpjson.New(httpjson.Config{
			BaseURL: cfg.BaseURL,
			Headers: map[string]string{
				"X-Coinbase-Api-Key":    cfg.APIKey,
				"X-Coinbase-Api-Secret": cfg.APISecret,
			},
			HTTPClient: cfg.HTTPClient,
			MaxTries:   cfg.MaxTries,
			Logger:     cfg.Logger,
		}),
		balance: httpjson.New(httpjson.Config{
			Headers:    map[string]string{"Authorization": bearer(cfg.APIKey)},
			HTTPClient: cfg.HTTPClient,
			MaxTries:   cfg.MaxTries,
			Logger:     cfg.Logger,
		}),
		balanceURL:    balanceURL,
		tokenContract: token,
	}, nil
}

type createPaymentRequest struct {
	Amount           string            `json:"amount"`
	Currency         string            `json:"currency"`
	Network          string            `json:"network"`
	SenderAddress    string            `json:"sender_address"`
	RecipientAddress string            `json:"recipient_address"`
	ResourceID       string            `json:"resource_id"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// CreateChallenge posts to {base}/payment/create and returns the response body.
// The request is sent once; a retry could open a second payment.
func (f *Facilitator) CreateChallenge(ctx context.Context, req ChallengeRequest) (json.RawMessage, error) {
	body := createPaymentRequest{
		Amount:           req.Amount.FormatMajor(),
		Currency:         "USDC",
		Network:          req.Network,
		SenderAddress:    req.Payer,
		RecipientAddress: req.Payee,
		ResourceID:       req.Reference,
		Metadata: map[string]string{
			"service":      "ticketbooth",
			"payment_type": "ticket_purchase",
		},
	}
	if req.Description != "" {
		body.Metadata["description"] = req.Description
	}

	raw, err := f.api.DoRaw(ctx, http.MethodPost, "/payment/create", body)
	if err != nil {
		return nil, fmt.Errorf("settlement: create challenge: %w", err)
	}
	return raw, nil
}

type verifyResponse struct {
	Status   string `json:"status"`
	Verified *bool  `json:"verified"`
}

// Verify reads {base}/payment/{reference}/verify.
func (f *Facilitator) Verify(ctx context.Context, reference string) (Verdict, error) {
	var resp verifyResponse
	path := "/payment/" + url.PathEscape(reference) + "/verify"
	if err := f.api.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return Pending, fmt.Errorf("settlement: verify %s: %w", reference, err)
	}
	if resp.Status == "" && resp.Verified != nil && *resp.Verified {
		return Settled, nil
	}
	return ParseVerdict(resp.Status), nil
}

type balanceRequest struct {
	Network       string `json:"network,omitempty"`
	TokenAddress  string `json:"token_address"`
	WalletAddress string `json:"wallet_address"`
}

type balanceResponse struct {
	Balance json.Number `json:"balance"`
}

// Balance posts to the balance endpoint and parses the decimal balance.
func (f *Facilitator) Balance(ctx context.Context, wallet string) (types.Money, error) {
	var resp balanceResponse
	req := balanceRequest{TokenAddress: f.tokenContract, WalletAddress: wallet}
	if err := f.balance.Do(ctx, http.MethodPost, f.balanceURL, req, &resp, httpjson.Idempotent()); err != nil {
		return types.Money{}, fmt.Errorf("settlement: balance %s: %w", wallet, err)
	}
	if resp.Balance == "" {
		return types.Zero(types.CurrencyUSDC), nil
	}
	m, err := types.ParseMajor(truncateDecimals(resp.Balance.String(), 6), types.CurrencyUSDC)
	if err != nil {
		return types.Money{}, fmt.Errorf("settlement: balance %s: %w", wallet, err)
	}
	return m, nil
}

// truncateDecimals drops fractional digits beyond n; balances below one
// micro-unit are not spendable.
func truncateDecimals(s string, n int) string {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) <= n {
		return s
	}
	return whole + "." + frac[:n]
}

func bearer(key string) string {
	if key == "" {
		return ""
	}
	return "Bearer " + key
}
