package ticketbooth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/pricing"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// SessionState is the lifecycle state of a watch session.
type SessionState string

const (
	SessionNotStarted SessionState = "not_started"
	SessionStreaming  SessionState = "streaming"
	SessionEnded      SessionState = "ended"
)

// Unit is one metered piece of stream content.
type Unit struct {
	// Payload is the raw content, kept only when sampled for analysis.
	Payload []byte
	// Kinds lists the analysis kinds the payload is suitable for.
	Kinds []pricing.Kind
}

// Receipt acknowledges a metered unit.
type Receipt struct {
	FrameNumber    int64       `json:"frame_number"`
	UnitCost       types.Money `json:"unit_cost"`
	CumulativeCost types.Money `json:"cumulative_cost"`
}

// SessionSummary is the final metering of a watch session.
type SessionSummary struct {
	TicketID       id.TicketID   `json:"ticket_id"`
	AgentID        string        `json:"agent_id"`
	FrameCount     int64         `json:"frame_count"`
	CumulativeCost types.Money   `json:"cumulative_cost"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
	Duration       time.Duration `json:"duration"`
}

// Session meters one live watch of an active ticket. It lives only in
// memory and is finalized exactly once by Close, whether the viewer ends
// it, disconnects or the booth shuts down.
type Session struct {
	booth     *Booth
	ticket    *ticket.Ticket
	startedAt time.Time

	mu      sync.Mutex
	state   SessionState
	frames  int64
	cost    types.Money
	samples []Unit
	summary *SessionSummary
}

// OpenSession starts the watch session for an active ticket. Each ticket
// can be watched once.
func (b *Booth) OpenSession(ctx context.Context, ticketID id.TicketID) (*Session, error) {
	if b.isStopped() {
		return nil, ErrStoreClosed
	}
	t, err := b.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if err := watchable(t); err != nil {
		return nil, err
	}

	now := b.now()
	if t.IsExpired(now) {
		if err := b.store.ExpireTicket(ctx, t.ID, now); err == nil {
			t.Status = ticket.StatusExpired
			b.plugins.EmitTicketExpired(ctx, t)
		}
		return nil, ErrTicketExpired
	}
	if t.WatchStartedAt != nil {
		return nil, ErrSessionExists
	}

	if err := b.store.StartWatching(ctx, t.ID, now); err != nil {
		if !errors.Is(err, ErrTransitionConflict) {
			return nil, err
		}
		current, getErr := b.store.GetTicket(ctx, t.ID)
		if getErr != nil {
			return nil, getErr
		}
		if err := watchable(current); err != nil {
			return nil, err
		}
		return nil, ErrSessionExists
	}
	t.WatchStartedAt = &now

	s := &Session{
		booth:     b,
		ticket:    t,
		startedAt: now,
		state:     SessionStreaming,
		cost:      types.Zero(b.rates.FrameCost().Currency),
	}
	b.sessions.Store(t.ID.String(), s)

	b.plugins.EmitSessionOpened(ctx, t)
	b.logger.Info("watch session opened",
		"ticket_id", t.ID.String(),
		"agent_id", t.AgentID,
		"stream_url", t.StreamURL,
	)
	return s, nil
}

// watchable reports why t cannot start a session, if it cannot.
func watchable(t *ticket.Ticket) error {
	switch {
	case t.PaymentStatus == ticket.PaymentFailed:
		return fmt.Errorf("%w: %w", ErrTicketNotActive, ErrPaymentFailed)
	case t.Status == ticket.StatusPending:
		return fmt.Errorf("%w: %w", ErrTicketNotActive, ErrPaymentPending)
	case t.Status == ticket.StatusExpired:
		return fmt.Errorf("%w: %w", ErrTicketNotActive, ErrTicketExpired)
	case t.Status != ticket.StatusActive:
		return fmt.Errorf("%w: ticket is %s", ErrTicketNotActive, t.Status)
	}
	return nil
}

// LiveSession returns the open session for a ticket, if any.
func (b *Booth) LiveSession(ticketID id.TicketID) (*Session, bool) {
	v, ok := b.sessions.Load(ticketID.String())
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// LiveSessions returns the number of open sessions.
func (b *Booth) LiveSessions() int {
	n := 0
	b.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Ticket returns the ticket snapshot taken when the session opened.
func (s *Session) Ticket() *ticket.Ticket {
	cp := *s.ticket
	return &cp
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordUnit meters one unit and returns its receipt. Frame numbers start
// at 1 and increase by one per call.
func (s *Session) RecordUnit(_ context.Context, u Unit) (*Receipt, error) {
	unitCost := s.booth.rates.FrameCost()

	if s.booth.isStopped() {
		return nil, ErrStoreClosed
	}

	s.mu.Lock()
	if s.state != SessionStreaming {
		s.mu.Unlock()
		return nil, ErrSessionEnded
	}
	s.frames++
	s.cost = s.cost.Add(unitCost)
	frame, cumulative := s.frames, s.cost
	if len(u.Payload) > 0 && len(u.Kinds) > 0 && len(s.samples) < s.booth.analysisSamples {
		s.samples = append(s.samples, Unit{
			Payload: append([]byte(nil), u.Payload...),
			Kinds:   append([]pricing.Kind(nil), u.Kinds...),
		})
	}
	s.mu.Unlock()

	kinds := make([]string, len(u.Kinds))
	for i, k := range u.Kinds {
		kinds[i] = string(k)
	}
	s.booth.enqueueUsage(&meter.UsageEvent{
		ID:             id.NewUsageEventID(),
		TicketID:       s.ticket.ID,
		AgentID:        s.ticket.AgentID,
		FrameNumber:    frame,
		Cost:           unitCost,
		Kinds:          kinds,
		Timestamp:      s.booth.now(),
		IdempotencyKey: meter.IdempotencyKey(s.ticket.ID, frame),
	})

	return &Receipt{
		FrameNumber:    frame,
		UnitCost:       unitCost,
		CumulativeCost: cumulative,
	}, nil
}

// Close ends the session, completes the ticket and schedules digest
// assembly. Later calls return the same summary without side effects.
func (s *Session) Close(ctx context.Context) SessionSummary {
	s.mu.Lock()
	if s.summary != nil {
		sum := *s.summary
		s.mu.Unlock()
		return sum
	}
	ended := s.booth.now()
	sum := SessionSummary{
		TicketID:       s.ticket.ID,
		AgentID:        s.ticket.AgentID,
		FrameCount:     s.frames,
		CumulativeCost: s.cost,
		StartedAt:      s.startedAt,
		EndedAt:        ended,
		Duration:       ended.Sub(s.startedAt),
	}
	s.state = SessionEnded
	s.summary = &sum
	samples := s.samples
	s.samples = nil
	s.mu.Unlock()

	s.booth.finalize(context.WithoutCancel(ctx), sum, samples)
	return sum
}

// finalize completes the ticket and assembles its digest in the background.
func (b *Booth) finalize(ctx context.Context, sum SessionSummary, samples []Unit) {
	b.sessions.Delete(sum.TicketID.String())

	if err := b.store.CompleteTicket(ctx, sum.TicketID, sum.EndedAt, sum.FrameCount, sum.CumulativeCost); err != nil {
		b.logger.Error("failed to complete ticket",
			"ticket_id", sum.TicketID.String(),
			"error", err,
		)
		return
	}

	t, err := b.store.GetTicket(ctx, sum.TicketID)
	if err != nil {
		b.logger.Error("failed to reload completed ticket",
			"ticket_id", sum.TicketID.String(),
			"error", err,
		)
		return
	}
	b.plugins.EmitSessionClosed(ctx, t, sum.Duration)

	b.logger.Info("watch session closed",
		"ticket_id", sum.TicketID.String(),
		"agent_id", sum.AgentID,
		"frames", sum.FrameCount,
		"cost", sum.CumulativeCost.String(),
		"duration", sum.Duration,
	)

	// Once Stop has begun nothing may join digestWG, so the digest is built
	// inline and Stop's session sweep waits for it.
	b.lifecycle.Lock()
	if b.stopped {
		b.lifecycle.Unlock()
		b.assembleSessionDigest(ctx, sum, samples)
		return
	}
	b.digestWG.Add(1)
	b.lifecycle.Unlock()

	go func() {
		defer b.digestWG.Done()
		b.assembleSessionDigest(ctx, sum, samples)
	}()
}

func (b *Booth) assembleSessionDigest(ctx context.Context, sum SessionSummary, samples []Unit) {
	input := b.analyze(ctx, samples)
	if _, err := b.Assemble(ctx, sum.TicketID, sum, input); err != nil {
		if errors.Is(err, ErrDigestExists) {
			b.logger.Warn("digest already exists",
				"ticket_id", sum.TicketID.String(),
			)
			return
		}
		b.logger.Error("failed to assemble digest",
			"ticket_id", sum.TicketID.String(),
			"error", err,
		)
	}
}
