// Package pricing estimates the cost of content analysis and metered
// frames. All amounts are USDC in micro-units.
package pricing

import (
	"strings"

	"github.com/xraph/ticketbooth/types"
)

// Kind is a category of content analysis.
type Kind string

const (
	KindVisual Kind = "visual"
	KindAudio  Kind = "audio"
	KindText   Kind = "text"
)

// Kinds lists the known analysis kinds in rate-card order.
var Kinds = []Kind{KindVisual, KindAudio, KindText}

// ParseKind normalizes s to a known Kind.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindVisual, KindAudio, KindText:
		return k, true
	}
	return "", false
}

// RateCard holds per-kind analysis rates and the per-frame charge.
type RateCard struct {
	Visual types.Money `json:"visual"`
	Audio  types.Money `json:"audio"`
	Text   types.Money `json:"text"`
	Frame  types.Money `json:"frame"`
}

// DefaultRateCard returns the standard rates: visual 0.01, audio 0.005,
// text 0.003 and 0.001 per frame.
func DefaultRateCard() RateCard {
	return RateCard{
		Visual: types.USDC(10000),
		Audio:  types.USDC(5000),
		Text:   types.USDC(3000),
		Frame:  types.USDC(1000),
	}
}

// Rate returns the rate for a single kind. Unknown kinds cost nothing.
func (r RateCard) Rate(k Kind) types.Money {
	switch k {
	case KindVisual:
		return r.Visual
	case KindAudio:
		return r.Audio
	case KindText:
		return r.Text
	}
	return types.Zero(r.Frame.Currency)
}

// Estimate sums the rate of each distinct known kind. Repeated kinds are
// charged once and unknown kinds are ignored.
func (r RateCard) Estimate(kinds ...Kind) types.Money {
	total := types.Zero(r.Frame.Currency)
	seen := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		total = total.Add(r.Rate(k))
	}
	return total
}

// FrameCost returns the charge for one metered unit.
func (r RateCard) FrameCost() types.Money { return r.Frame }

// Estimate prices kinds against DefaultRateCard.
func Estimate(kinds ...Kind) types.Money { return DefaultRateCard().Estimate(kinds...) }

// FrameCost is the default per-unit charge.
func FrameCost() types.Money { return DefaultRateCard().Frame }
