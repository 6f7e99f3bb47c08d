// Package id defines TypeID-based identity types for ticketbooth entities.
//
// Every entity uses a single ID struct with a prefix that identifies
// the entity type. IDs are K-sortable (UUIDv7-based), globally unique,
// and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all ticketbooth entity types.
const (
	PrefixAgent      Prefix = "agent" // Registered agent
	PrefixStream     Prefix = "strm"  // Watchable stream
	PrefixTicket     Prefix = "tkt"   // Access ticket
	PrefixPayment    Prefix = "pay"   // Payment reference
	PrefixDigest     Prefix = "dgst"  // Post-watch digest
	PrefixUsageEvent Prefix = "uevt"  // Metered unit
)

// ID is the primary identifier type for all ticketbooth entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

var known = map[Prefix]struct{}{
	PrefixAgent:      {},
	PrefixStream:     {},
	PrefixTicket:     {},
	PrefixPayment:    {},
	PrefixDigest:     {},
	PrefixUsageEvent: {},
}

// Known reports whether p names a ticketbooth entity type.
func Known(p Prefix) bool {
	_, ok := known[p]
	return ok
}

// New generates a new globally unique ID with the given prefix.
// It panics on a prefix outside the known set (programming error).
func New(prefix Prefix) ID {
	if !Known(prefix) {
		panic(fmt.Sprintf("id: unknown prefix %q", prefix))
	}
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "tkt_01h2xcejqtf2nbrexx3vqjhp41".
// Well-formed IDs whose prefix is not a ticketbooth entity are rejected.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if p := Prefix(tid.Prefix()); !Known(p) {
		return Nil, fmt.Errorf("id: parse %q: unknown prefix %q", s, p)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// AgentID identifies an agent record (prefix: "agent").
type AgentID = ID

// StreamID identifies a stream (prefix: "strm").
type StreamID = ID

// TicketID identifies a ticket (prefix: "tkt").
type TicketID = ID

// PaymentID is the payment reference handed to the settlement gateway (prefix: "pay").
type PaymentID = ID

// DigestID identifies a digest (prefix: "dgst").
type DigestID = ID

// UsageEventID identifies a metered unit event (prefix: "uevt").
type UsageEventID = ID

// Constructors and prefix-checked parsers per entity type.

func NewAgentID() ID      { return New(PrefixAgent) }
func NewStreamID() ID     { return New(PrefixStream) }
func NewTicketID() ID     { return New(PrefixTicket) }
func NewPaymentID() ID    { return New(PrefixPayment) }
func NewDigestID() ID     { return New(PrefixDigest) }
func NewUsageEventID() ID { return New(PrefixUsageEvent) }

func ParseAgentID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixAgent) }
func ParseStreamID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixStream) }
func ParseTicketID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixTicket) }
func ParsePaymentID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixPayment) }
func ParseDigestID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixDigest) }
func ParseUsageEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixUsageEvent) }

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner. NULL and empty strings scan to Nil.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
