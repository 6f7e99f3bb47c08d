// Package memory provides an in-process store.Store backed by maps.
// It is safe for concurrent use and returns copies so callers never alias
// stored records.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	"github.com/xraph/ticketbooth/store"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	agents  map[string]*agent.Agent // keyed by caller agent_id
	streams map[string]*stream.Stream
	tickets map[string]*ticket.Ticket
	digests map[string]*digest.Digest

	usageEvents []*meter.UsageEvent
	usageKeys   map[string]struct{}
}

func New() *Store {
	return &Store{
		agents:      make(map[string]*agent.Agent),
		streams:     make(map[string]*stream.Stream),
		tickets:     make(map[string]*ticket.Ticket),
		digests:     make(map[string]*digest.Digest),
		usageEvents: make([]*meter.UsageEvent, 0),
		usageKeys:   make(map[string]struct{}),
	}
}

// Agent Store implementation
func (s *Store) CreateAgent(_ context.Context, a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[a.AgentID]; exists {
		return ticketbooth.ErrAgentExists
	}
	cp := *a
	s.agents[a.AgentID] = &cp
	return nil
}

func (s *Store) GetAgent(_ context.Context, agentID string) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.agents[agentID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ticketbooth.ErrAgentNotFound
}

func (s *Store) UpdateAgentBalance(_ context.Context, agentID string, balance types.Money, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return ticketbooth.ErrAgentNotFound
	}
	a.Balance = balance
	a.BalanceRefreshedAt = &at
	a.Touch(at)
	return nil
}

// Stream Store implementation
func (s *Store) CreateStream(_ context.Context, st *stream.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.streams {
		if existing.URL == st.URL {
			return ticketbooth.ErrStreamExists
		}
	}
	if _, exists := s.streams[st.ID.String()]; exists {
		return ticketbooth.ErrStreamExists
	}
	cp := *st
	s.streams[st.ID.String()] = &cp
	return nil
}

func (s *Store) GetStream(_ context.Context, streamID id.StreamID) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.streams[streamID.String()]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, ticketbooth.ErrStreamNotFound
}

func (s *Store) GetStreamByURL(_ context.Context, url string) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.streams {
		if st.URL == url {
			cp := *st
			return &cp, nil
		}
	}
	return nil, ticketbooth.ErrStreamNotFound
}

func (s *Store) ListStreams(_ context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		if opts.ActiveOnly && !st.Active {
			continue
		}
		cp := *st
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// Ticket Store implementation
func (s *Store) CreateTicket(_ context.Context, t *ticket.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[t.ID.String()]; exists {
		return ticketbooth.ErrTransitionConflict
	}
	cp := *t
	s.tickets[t.ID.String()] = &cp
	return nil
}

func (s *Store) GetTicket(_ context.Context, ticketID id.TicketID) (*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.tickets[ticketID.String()]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ticketbooth.ErrTicketNotFound
}

func (s *Store) FindPendingTicket(_ context.Context, agentID, streamURL string) (*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *ticket.Ticket
	for _, t := range s.tickets {
		if t.AgentID != agentID || t.StreamURL != streamURL {
			continue
		}
		if t.Status != ticket.StatusPending || t.PaymentStatus != ticket.PaymentPending {
			continue
		}
		if found == nil || t.PurchasedAt.After(found.PurchasedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, ticketbooth.ErrTicketNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *Store) SetChallenge(_ context.Context, ticketID id.TicketID, challenge json.RawMessage, at time.Time) error {
	return s.transition(ticketID, at, func(t *ticket.Ticket) bool {
		if t.PaymentStatus != ticket.PaymentPending {
			return false
		}
		t.Challenge = append(json.RawMessage(nil), challenge...)
		return true
	})
}

func (s *Store) SettleTicket(_ context.Context, ticketID id.TicketID, paidAt, expiresAt time.Time) error {
	return s.transition(ticketID, paidAt, func(t *ticket.Ticket) bool {
		if t.PaymentStatus != ticket.PaymentPending || t.Status != ticket.StatusPending {
			return false
		}
		t.PaymentStatus = ticket.PaymentPaid
		t.Status = ticket.StatusActive
		t.PaidAt = &paidAt
		t.ExpiresAt = &expiresAt
		return true
	})
}

func (s *Store) FailTicket(_ context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ticketID, at, func(t *ticket.Ticket) bool {
		if t.PaymentStatus != ticket.PaymentPending {
			return false
		}
		t.PaymentStatus = ticket.PaymentFailed
		return true
	})
}

func (s *Store) StartWatching(_ context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ticketID, at, func(t *ticket.Ticket) bool {
		if t.Status != ticket.StatusActive || t.WatchStartedAt != nil {
			return false
		}
		t.WatchStartedAt = &at
		return true
	})
}

func (s *Store) CompleteTicket(_ context.Context, ticketID id.TicketID, at time.Time, frames int64, cost types.Money) error {
	return s.transition(ticketID, at, func(t *ticket.Ticket) bool {
		if t.Status != ticket.StatusActive {
			return false
		}
		t.Status = ticket.StatusCompleted
		t.CompletedAt = &at
		t.FrameCount = frames
		t.MeteredCost = cost
		return true
	})
}

func (s *Store) ExpireTicket(_ context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ticketID, at, func(t *ticket.Ticket) bool {
		if t.Status != ticket.StatusActive {
			return false
		}
		t.Status = ticket.StatusExpired
		return true
	})
}

func (s *Store) ExpireTickets(_ context.Context, before time.Time) ([]*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]*ticket.Ticket, 0)
	for _, t := range s.tickets {
		if t.Status != ticket.StatusActive || t.WatchStartedAt != nil {
			continue
		}
		if t.ExpiresAt == nil || t.ExpiresAt.After(before) {
			continue
		}
		t.Status = ticket.StatusExpired
		t.Touch(before)
		cp := *t
		expired = append(expired, &cp)
	}
	return expired, nil
}

// transition applies fn under the write lock and stamps UpdatedAt with at.
// fn reports whether the ticket's current state allowed the change.
func (s *Store) transition(ticketID id.TicketID, at time.Time, fn func(t *ticket.Ticket) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketID.String()]
	if !ok {
		return ticketbooth.ErrTicketNotFound
	}
	next := *t
	if !fn(&next) {
		return ticketbooth.ErrTransitionConflict
	}
	next.Touch(at)
	s.tickets[ticketID.String()] = &next
	return nil
}

// Meter Store implementation
func (s *Store) IngestBatch(_ context.Context, events []*meter.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.IdempotencyKey != "" {
			if _, dup := s.usageKeys[e.IdempotencyKey]; dup {
				continue
			}
			s.usageKeys[e.IdempotencyKey] = struct{}{}
		}
		cp := *e
		s.usageEvents = append(s.usageEvents, &cp)
	}
	return nil
}

func (s *Store) QueryUsage(_ context.Context, ticketID id.TicketID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*meter.UsageEvent, 0)
	for _, e := range s.usageEvents {
		if e.TicketID.String() == ticketID.String() {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FrameNumber < result[j].FrameNumber })

	return paginate(result, opts.Offset, opts.Limit), nil
}

// Digest Store implementation
func (s *Store) CreateDigest(_ context.Context, d *digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.digests {
		if existing.TicketID.String() == d.TicketID.String() {
			return ticketbooth.ErrDigestExists
		}
	}
	s.digests[d.ID.String()] = cloneDigest(d)
	return nil
}

func (s *Store) GetDigest(_ context.Context, digestID id.DigestID) (*digest.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.digests[digestID.String()]; ok {
		return cloneDigest(d), nil
	}
	return nil, ticketbooth.ErrDigestNotFound
}

func (s *Store) GetDigestByTicket(_ context.Context, ticketID id.TicketID) (*digest.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.digests {
		if d.TicketID.String() == ticketID.String() {
			return cloneDigest(d), nil
		}
	}
	return nil, ticketbooth.ErrDigestNotFound
}

func (s *Store) MarkDigestDelivered(_ context.Context, digestID id.DigestID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.digests[digestID.String()]
	if !ok {
		return ticketbooth.ErrDigestNotFound
	}
	if d.SentToOwner {
		return ticketbooth.ErrTransitionConflict
	}
	next := cloneDigest(d)
	next.SentToOwner = true
	next.SentAt = &at
	next.Touch(at)
	s.digests[digestID.String()] = next
	return nil
}

func (s *Store) ListUndeliveredDigests(_ context.Context, limit int) ([]*digest.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*digest.Digest, 0)
	for _, d := range s.digests {
		if !d.SentToOwner {
			result = append(result, cloneDigest(d))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })

	return paginate(result, 0, limit), nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

func cloneDigest(d *digest.Digest) *digest.Digest {
	cp := *d
	cp.Insights = append([]string(nil), d.Insights...)
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
