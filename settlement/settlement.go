// Package settlement defines the payment gateway the booth settles ticket
// prices through, plus an HTTP facilitator adapter and an in-process
// sandbox.
//
// The booth trusts the gateway's verdict. Finality, signing and custody
// all live on the gateway's side.
package settlement

import (
	"context"
	"encoding/json"

	"github.com/xraph/ticketbooth/types"
)

// Verdict is the gateway's view of a payment reference.
type Verdict string

const (
	Settled Verdict = "settled"
	Failed  Verdict = "failed"
	Pending Verdict = "pending"
)

// ParseVerdict maps facilitator status words onto a Verdict. Unknown words
// are treated as still pending.
func ParseVerdict(s string) Verdict {
	switch s {
	case "settled", "paid", "verified", "confirmed", "completed", "success":
		return Settled
	case "failed", "rejected", "expired", "cancelled", "canceled", "error":
		return Failed
	}
	return Pending
}

// ChallengeRequest describes the payment an agent must make for a ticket.
type ChallengeRequest struct {
	Reference   string      `json:"reference"`
	Amount      types.Money `json:"amount"`
	Payer       string      `json:"payer"`
	Payee       string      `json:"payee"`
	Network     string      `json:"network"`
	Description string      `json:"description,omitempty"`
}

// Gateway creates payment challenges, reports settlement and reads wallet
// balances.
type Gateway interface {
	// CreateChallenge returns an opaque payload the payer uses to pay. The
	// booth stores it and hands it back verbatim.
	CreateChallenge(ctx context.Context, req ChallengeRequest) (json.RawMessage, error)

	// Verify reports the settlement state of a payment reference.
	Verify(ctx context.Context, reference string) (Verdict, error)

	// Balance returns the spendable balance of a wallet.
	Balance(ctx context.Context, wallet string) (types.Money, error)
}
