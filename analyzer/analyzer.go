// Package analyzer scores sampled stream content. The analysis itself is
// opaque to the booth: it only consumes descriptions, insights, sentiment
// and the reported cost.
package analyzer

import (
	"context"
	"encoding/json"

	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/types"
)

// Result is one analysis of one payload.
type Result struct {
	Kind        pricing.Kind    `json:"kind"`
	Description string          `json:"description,omitempty"`
	Insights    []string        `json:"insights,omitempty"`
	Sentiment   string          `json:"sentiment,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Analyzer scores a payload of the given kind and reports what it cost.
type Analyzer interface {
	Score(ctx context.Context, kind pricing.Kind, payload []byte) (*Result, types.Money, error)
}

// Func adapts a function to Analyzer.
type Func func(ctx context.Context, kind pricing.Kind, payload []byte) (*Result, types.Money, error)

// Score calls f.
func (f Func) Score(ctx context.Context, kind pricing.Kind, payload []byte) (*Result, types.Money, error) {
	return f(ctx, kind, payload)
}
