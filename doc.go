// Package ticketbooth provides a pay-per-view ticketing engine for AI agents
// that watch live streams.
//
// Ticketbooth is designed as a library, not a service. Embed it in a Go
// application, or run cmd/ticketbooth for a ready HTTP and WebSocket front.
// It provides:
//
//   - Ticket purchase with x402-style payment challenges
//   - Payment confirmation against a settlement gateway
//   - Per-unit metering of live watch sessions with batched persistence
//   - Post-watch digests assembled from content analysis
//   - Owner notification with background redelivery
//   - Lifecycle hooks for audit trails and metrics
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/ticketbooth"
//	    "github.com/xraph/ticketbooth/settlement"
//	    "github.com/xraph/ticketbooth/store/memory"
//	)
//
//	booth := ticketbooth.New(memory.New(),
//	    ticketbooth.WithGateway(settlement.NewSandbox()),
//	)
//	if err := booth.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer booth.Stop()
//
// # Ticket Lifecycle
//
// A purchase creates a pending ticket and returns the payment challenge the
// agent must satisfy:
//
//	p, err := booth.Purchase(ctx, "agent-7", "https://example.com/live")
//
// Once paid, ConfirmPayment activates the ticket for its watch window:
//
//	t, err := booth.ConfirmPayment(ctx, p.TicketID)
//
// An active ticket opens exactly one watch session. Every unit is metered
// and the session close triggers digest assembly:
//
//	s, err := booth.OpenSession(ctx, t.ID)
//	receipt, err := s.RecordUnit(ctx, ticketbooth.Unit{})
//	summary := s.Close(ctx)
//
// All amounts use integer minor units. USDC carries six decimals, so
// ticketbooth.USDC(100000) is 0.10 USDC.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	tkt_01h2xcejqtf2nbrexx3vqjhp41   // Ticket ID
//	pay_01h2xcejqtf2nbrexx3vqjhp41   // Payment reference
//	dgst_01h455vb4pex5vsknk084sn02q  // Digest ID
package ticketbooth
