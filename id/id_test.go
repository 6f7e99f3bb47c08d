package id_test

import (
	"strings"
	"testing"

	"go.jetify.com/typeid/v2"

	"github.com/xraph/ticketbooth/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"AgentID", id.NewAgentID, "agent_"},
		{"StreamID", id.NewStreamID, "strm_"},
		{"TicketID", id.NewTicketID, "tkt_"},
		{"PaymentID", id.NewPaymentID, "pay_"},
		{"DigestID", id.NewDigestID, "dgst_"},
		{"UsageEventID", id.NewUsageEventID, "uevt_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixTicket)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixTicket {
		t.Errorf("expected prefix %q, got %q", id.PrefixTicket, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"AgentID", id.NewAgentID, id.ParseAgentID},
		{"StreamID", id.NewStreamID, id.ParseStreamID},
		{"TicketID", id.NewTicketID, id.ParseTicketID},
		{"PaymentID", id.NewPaymentID, id.ParsePaymentID},
		{"DigestID", id.NewDigestID, id.ParseDigestID},
		{"UsageEventID", id.NewUsageEventID, id.ParseUsageEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseAgentID rejects strm_", id.NewStreamID().String(), id.ParseAgentID},
		{"ParseStreamID rejects tkt_", id.NewTicketID().String(), id.ParseStreamID},
		{"ParseTicketID rejects pay_", id.NewPaymentID().String(), id.ParseTicketID},
		{"ParsePaymentID rejects dgst_", id.NewDigestID().String(), id.ParsePaymentID},
		{"ParseDigestID rejects uevt_", id.NewUsageEventID().String(), id.ParseDigestID},
		{"ParseUsageEventID rejects agent_", id.NewAgentID().String(), id.ParseUsageEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parseFn(tt.input)
			if err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseRejectsUnknownPrefix(t *testing.T) {
	foreign, err := typeid.Generate("plan")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := id.Parse(foreign.String()); err == nil {
		t.Errorf("Parse(%q) succeeded, want unknown prefix error", foreign.String())
	}

	var scanned id.ID
	if err := scanned.Scan(foreign.String()); err == nil {
		t.Error("Scan accepted a foreign prefix")
	}
}

func TestKnown(t *testing.T) {
	for _, p := range []id.Prefix{
		id.PrefixAgent, id.PrefixStream, id.PrefixTicket,
		id.PrefixPayment, id.PrefixDigest, id.PrefixUsageEvent,
	} {
		if !id.Known(p) {
			t.Errorf("Known(%q) = false", p)
		}
	}
	if id.Known("inv") {
		t.Error(`Known("inv") = true`)
	}
}

func TestNewPanicsOnUnknownPrefix(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	id.New("plan")
}

func TestParseWithPrefix(t *testing.T) {
	i := id.NewTicketID()
	parsed, err := id.ParseWithPrefix(i.String(), id.PrefixTicket)
	if err != nil {
		t.Fatalf("ParseWithPrefix failed: %v", err)
	}
	if parsed.String() != i.String() {
		t.Errorf("mismatch: %q != %q", parsed.String(), i.String())
	}

	_, err = id.ParseWithPrefix(i.String(), id.PrefixPayment)
	if err == nil {
		t.Error("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := id.Parse("")
	if err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
	if i.Prefix() != "" {
		t.Errorf("expected empty prefix, got %q", i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewDigestID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if unmarshalErr := restored.UnmarshalText(data); unmarshalErr != nil {
		t.Fatalf("UnmarshalText failed: %v", unmarshalErr)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	// Nil round-trip.
	var nilID id.ID
	data, err = nilID.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText(nil) failed: %v", err)
	}
	var restored2 id.ID
	if err := restored2.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !restored2.IsNil() {
		t.Error("expected nil after round-trip of nil ID")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewTicketID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if scanErr := scanned.Scan(val); scanErr != nil {
		t.Fatalf("Scan failed: %v", scanErr)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	// Nil round-trip.
	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	var scanned2 id.ID
	if err := scanned2.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if !scanned2.IsNil() {
		t.Error("expected nil after scan of nil")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewPaymentID()
	b := id.NewPaymentID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewPaymentID() calls returned the same ID: %q", a.String())
	}
}
