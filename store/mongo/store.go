package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/ticketbooth"
	"github.com/xraph/ticketbooth/agent"
	"github.com/xraph/ticketbooth/digest"
	"github.com/xraph/ticketbooth/id"
	"github.com/xraph/ticketbooth/meter"
	tbstore "github.com/xraph/ticketbooth/store"
	"github.com/xraph/ticketbooth/stream"
	"github.com/xraph/ticketbooth/ticket"
	"github.com/xraph/ticketbooth/types"
)

// Collection name constants.
const (
	colAgents      = "ticketbooth_agents"
	colStreams     = "ticketbooth_streams"
	colTickets     = "ticketbooth_tickets"
	colUsageEvents = "ticketbooth_usage_events"
	colDigests     = "ticketbooth_digests"
)

// compile-time interface check
var _ tbstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all ticketbooth collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("ticketbooth/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Agent Store ====================

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	_, err := s.mdb.NewInsert(toAgentModel(a)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ticketbooth.ErrAgentExists
		}
		return fmt.Errorf("ticketbooth/mongo: create agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	var m agentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"agent_id": agentID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ticketbooth.ErrAgentNotFound
		}
		return nil, fmt.Errorf("ticketbooth/mongo: get agent: %w", err)
	}
	return fromAgentModel(&m)
}

func (s *Store) UpdateAgentBalance(ctx context.Context, agentID string, balance types.Money, at time.Time) error {
	res, err := s.mdb.NewUpdate((*agentModel)(nil)).
		Filter(bson.M{"agent_id": agentID}).
		Set("balance_amount", balance.Amount).
		Set("balance_currency", balance.Currency).
		Set("balance_refreshed_at", at).
		Set("updated_at", at.UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/mongo: update agent balance: %w", err)
	}
	if res.MatchedCount() == 0 {
		return ticketbooth.ErrAgentNotFound
	}
	return nil
}

// ==================== Stream Store ====================

func (s *Store) CreateStream(ctx context.Context, st *stream.Stream) error {
	_, err := s.mdb.NewInsert(toStreamModel(st)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ticketbooth.ErrStreamExists
		}
		return fmt.Errorf("ticketbooth/mongo: create stream: %w", err)
	}
	return nil
}

func (s *Store) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	return s.findStream(ctx, bson.M{"_id": streamID.String()})
}

func (s *Store) GetStreamByURL(ctx context.Context, url string) (*stream.Stream, error) {
	return s.findStream(ctx, bson.M{"url": url})
}

func (s *Store) findStream(ctx context.Context, filter bson.M) (*stream.Stream, error) {
	var m streamModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, ticketbooth.ErrStreamNotFound
		}
		return nil, fmt.Errorf("ticketbooth/mongo: get stream: %w", err)
	}
	return fromStreamModel(&m)
}

func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ticketbooth/mongo: list streams: %w", err)
	}

	result := make([]*stream.Stream, len(models))
	for i := range models {
		st, err := fromStreamModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = st
	}
	return result, nil
}

// ==================== Ticket Store ====================

func (s *Store) CreateTicket(ctx context.Context, t *ticket.Ticket) error {
	_, err := s.mdb.NewInsert(toTicketModel(t)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/mongo: create ticket: %w", err)
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID id.TicketID) (*ticket.Ticket, error) {
	var m ticketModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": ticketID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ticketbooth.ErrTicketNotFound
		}
		return nil, fmt.Errorf("ticketbooth/mongo: get ticket: %w", err)
	}
	return fromTicketModel(&m)
}

func (s *Store) FindPendingTicket(ctx context.Context, agentID, streamURL string) (*ticket.Ticket, error) {
	var m ticketModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"agent_id":       agentID,
			"stream_url":     streamURL,
			"status":         string(ticket.StatusPending),
			"payment_status": string(ticket.PaymentPending),
		}).
		Sort(bson.D{{Key: "purchased_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ticketbooth.ErrTicketNotFound
		}
		return nil, fmt.Errorf("ticketbooth/mongo: find pending ticket: %w", err)
	}
	return fromTicketModel(&m)
}

func (s *Store) SetChallenge(ctx context.Context, ticketID id.TicketID, challenge json.RawMessage, at time.Time) error {
	return s.transition(ctx, ticketID, at, "set challenge",
		bson.M{"payment_status": string(ticket.PaymentPending)},
		bson.M{"challenge": string(challenge)},
	)
}

func (s *Store) SettleTicket(ctx context.Context, ticketID id.TicketID, paidAt, expiresAt time.Time) error {
	return s.transition(ctx, ticketID, paidAt, "settle ticket",
		bson.M{
			"payment_status": string(ticket.PaymentPending),
			"status":         string(ticket.StatusPending),
		},
		bson.M{
			"payment_status": string(ticket.PaymentPaid),
			"status":         string(ticket.StatusActive),
			"paid_at":        paidAt,
			"expires_at":     expiresAt,
		},
	)
}

func (s *Store) FailTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ctx, ticketID, at, "fail ticket",
		bson.M{"payment_status": string(ticket.PaymentPending)},
		bson.M{"payment_status": string(ticket.PaymentFailed)},
	)
}

func (s *Store) StartWatching(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ctx, ticketID, at, "start watching",
		bson.M{
			"status":           string(ticket.StatusActive),
			"watch_started_at": nil,
		},
		bson.M{"watch_started_at": at},
	)
}

func (s *Store) CompleteTicket(ctx context.Context, ticketID id.TicketID, at time.Time, frames int64, cost types.Money) error {
	return s.transition(ctx, ticketID, at, "complete ticket",
		bson.M{"status": string(ticket.StatusActive)},
		bson.M{
			"status":         string(ticket.StatusCompleted),
			"completed_at":   at,
			"frame_count":    frames,
			"metered_amount": cost.Amount,
		},
	)
}

func (s *Store) ExpireTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	return s.transition(ctx, ticketID, at, "expire ticket",
		bson.M{"status": string(ticket.StatusActive)},
		bson.M{"status": string(ticket.StatusExpired)},
	)
}

func (s *Store) ExpireTickets(ctx context.Context, before time.Time) ([]*ticket.Ticket, error) {
	var models []ticketModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":           string(ticket.StatusActive),
			"watch_started_at": nil,
			"expires_at":       bson.M{"$lte": before},
		}).
		Sort(bson.D{{Key: "expires_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticketbooth/mongo: find expirable tickets: %w", err)
	}

	expired := make([]*ticket.Ticket, 0, len(models))
	for i := range models {
		res, err := s.mdb.NewUpdate((*ticketModel)(nil)).
			Filter(bson.M{
				"_id":              models[i].ID,
				"status":           string(ticket.StatusActive),
				"watch_started_at": nil,
			}).
			Set("status", string(ticket.StatusExpired)).
			Set("updated_at", before.UTC()).
			Exec(ctx)
		if err != nil {
			return expired, fmt.Errorf("ticketbooth/mongo: expire ticket: %w", err)
		}
		if res.MatchedCount() == 0 {
			continue
		}

		t, err := fromTicketModel(&models[i])
		if err != nil {
			return expired, err
		}
		t.Status = ticket.StatusExpired
		expired = append(expired, t)
	}
	return expired, nil
}

// transition applies set to the ticket only while it still matches guard.
func (s *Store) transition(ctx context.Context, ticketID id.TicketID, at time.Time, op string, guard, set bson.M) error {
	filter := bson.M{"_id": ticketID.String()}
	for k, v := range guard {
		filter[k] = v
	}

	q := s.mdb.NewUpdate((*ticketModel)(nil)).Filter(filter)
	for k, v := range set {
		q = q.Set(k, v)
	}
	res, err := q.Set("updated_at", at.UTC()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/mongo: %s: %w", op, err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}
	if _, err := s.GetTicket(ctx, ticketID); err != nil {
		return err
	}
	return ticketbooth.ErrTransitionConflict
}

// ==================== Meter Store ====================

func (s *Store) IngestBatch(ctx context.Context, events []*meter.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		m := toUsageEventModel(e)
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			// Skip duplicates for idempotency
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("ticketbooth/mongo: ingest event: %w", err)
		}
	}
	return nil
}

func (s *Store) QueryUsage(ctx context.Context, ticketID id.TicketID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"ticket_id": ticketID.String()}).
		Sort(bson.D{{Key: "frame_number", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ticketbooth/mongo: query usage: %w", err)
	}

	result := make([]*meter.UsageEvent, len(models))
	for i := range models {
		evt, err := fromUsageEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Digest Store ====================

func (s *Store) CreateDigest(ctx context.Context, d *digest.Digest) error {
	_, err := s.mdb.NewInsert(toDigestModel(d)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ticketbooth.ErrDigestExists
		}
		return fmt.Errorf("ticketbooth/mongo: create digest: %w", err)
	}
	return nil
}

func (s *Store) GetDigest(ctx context.Context, digestID id.DigestID) (*digest.Digest, error) {
	return s.findDigest(ctx, bson.M{"_id": digestID.String()})
}

func (s *Store) GetDigestByTicket(ctx context.Context, ticketID id.TicketID) (*digest.Digest, error) {
	return s.findDigest(ctx, bson.M{"ticket_id": ticketID.String()})
}

func (s *Store) findDigest(ctx context.Context, filter bson.M) (*digest.Digest, error) {
	var m digestModel
	if err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx); err != nil {
		if isNoDocuments(err) {
			return nil, ticketbooth.ErrDigestNotFound
		}
		return nil, fmt.Errorf("ticketbooth/mongo: get digest: %w", err)
	}
	return fromDigestModel(&m)
}

func (s *Store) MarkDigestDelivered(ctx context.Context, digestID id.DigestID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*digestModel)(nil)).
		Filter(bson.M{"_id": digestID.String(), "sent_to_owner": false}).
		Set("sent_to_owner", true).
		Set("sent_at", at).
		Set("updated_at", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/mongo: mark digest delivered: %w", err)
	}
	if res.MatchedCount() > 0 {
		return nil
	}
	if _, err := s.GetDigest(ctx, digestID); err != nil {
		return err
	}
	return ticketbooth.ErrTransitionConflict
}

func (s *Store) ListUndeliveredDigests(ctx context.Context, limit int) ([]*digest.Digest, error) {
	var models []digestModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"sent_to_owner": false}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("ticketbooth/mongo: list undelivered digests: %w", err)
	}

	result := make([]*digest.Digest, len(models))
	for i := range models {
		d, err := fromDigestModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all ticketbooth collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAgents: {
			{
				Keys:    bson.D{{Key: "agent_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colStreams: {
			{
				Keys:    bson.D{{Key: "url", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colTickets: {
			{
				Keys:    bson.D{{Key: "payment_ref", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "agent_id", Value: 1}, {Key: "stream_url", Value: 1}, {Key: "status", Value: 1}, {Key: "payment_status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colUsageEvents: {
			{Keys: bson.D{{Key: "ticket_id", Value: 1}, {Key: "frame_number", Value: 1}}},
			{
				Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colDigests: {
			{
				Keys:    bson.D{{Key: "ticket_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "sent_to_owner", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
