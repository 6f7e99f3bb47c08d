package pricing_test

import (
	"testing"

	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/types"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name  string
		kinds []pricing.Kind
		want  int64
	}{
		{"empty", nil, 0},
		{"visual", []pricing.Kind{pricing.KindVisual}, 10000},
		{"audio", []pricing.Kind{pricing.KindAudio}, 5000},
		{"text", []pricing.Kind{pricing.KindText}, 3000},
		{"all three", []pricing.Kind{pricing.KindVisual, pricing.KindAudio, pricing.KindText}, 18000},
		{"duplicates charged once", []pricing.Kind{pricing.KindText, pricing.KindText, pricing.KindVisual}, 13000},
		{"unknown ignored", []pricing.Kind{"smell", pricing.KindAudio}, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pricing.Estimate(tt.kinds...)
			if got.Amount != tt.want {
				t.Errorf("Estimate: got %d, want %d", got.Amount, tt.want)
			}
			if got.Currency != types.CurrencyUSDC {
				t.Errorf("Currency: got %s, want usdc", got.Currency)
			}
		})
	}
}

func TestFrameCost(t *testing.T) {
	if got := pricing.FrameCost(); got.FormatMajor() != "0.001" {
		t.Errorf("FrameCost: got %s, want 0.001", got.FormatMajor())
	}
}

func TestRateCardOverride(t *testing.T) {
	rc := pricing.DefaultRateCard()
	rc.Visual = types.USDC(20000)
	rc.Frame = types.USDC(500)

	if got := rc.Estimate(pricing.KindVisual, pricing.KindText); got.Amount != 23000 {
		t.Errorf("Estimate: got %d, want 23000", got.Amount)
	}
	if got := rc.FrameCost(); got.Amount != 500 {
		t.Errorf("FrameCost: got %d, want 500", got.Amount)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want pricing.Kind
		ok   bool
	}{
		{"visual", pricing.KindVisual, true},
		{" AUDIO ", pricing.KindAudio, true},
		{"Text", pricing.KindText, true},
		{"video", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := pricing.ParseKind(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseKind(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
