package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ tbstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("ticketbooth/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("ticketbooth/postgres: migration failed: %w", err)
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
	res, err := s.pg.NewInsert(toAgentModel(a)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/postgres: create agent: %w", err)
	}
	return ifNone(res, ticketbooth.ErrAgentExists)
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	m := new(agentModel)
	err := s.pg.NewSelect(m).
		Where("agent_id = $1", agentID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ticketbooth.ErrAgentNotFound
		}
		return nil, err
	}
	return fromAgentModel(m)
}

func (s *Store) UpdateAgentBalance(ctx context.Context, agentID string, balance types.Money, at time.Time) error {
	res, err := s.pg.NewUpdate((*agentModel)(nil)).
		Set("balance_amount = $1", balance.Amount).
		Set("balance_currency = $2", balance.Currency).
		Set("balance_refreshed_at = $3", at).
		Set("updated_at = $4", at.UTC()).
		Where("agent_id = $5", agentID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return ifNone(res, ticketbooth.ErrAgentNotFound)
}

// ==================== Stream Store ====================

func (s *Store) CreateStream(ctx context.Context, st *stream.Stream) error {
	res, err := s.pg.NewInsert(toStreamModel(st)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/postgres: create stream: %w", err)
	}
	return ifNone(res, ticketbooth.ErrStreamExists)
}

func (s *Store) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	return s.getStream(ctx, "id = $1", streamID.String())
}

func (s *Store) GetStreamByURL(ctx context.Context, url string) (*stream.Stream, error) {
	return s.getStream(ctx, "url = $1", url)
}

func (s *Store) getStream(ctx context.Context, where string, arg any) (*stream.Stream, error) {
	m := new(streamModel)
	if err := s.pg.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ticketbooth.ErrStreamNotFound
		}
		return nil, err
	}
	return fromStreamModel(m)
}

func (s *Store) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	var models []streamModel
	q := s.pg.NewSelect(&models)

	if opts.ActiveOnly {
		q = q.Where("active = $1", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.pg.NewInsert(toTicketModel(t)).Exec(ctx)
	return err
}

func (s *Store) GetTicket(ctx context.Context, ticketID id.TicketID) (*ticket.Ticket, error) {
	m := new(ticketModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", ticketID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ticketbooth.ErrTicketNotFound
		}
		return nil, err
	}
	return fromTicketModel(m)
}

func (s *Store) FindPendingTicket(ctx context.Context, agentID, streamURL string) (*ticket.Ticket, error) {
	m := new(ticketModel)
	err := s.pg.NewSelect(m).
		Where("agent_id = $1", agentID).
		Where("stream_url = $2", streamURL).
		Where("status = $3", string(ticket.StatusPending)).
		Where("payment_status = $4", string(ticket.PaymentPending)).
		OrderExpr("purchased_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ticketbooth.ErrTicketNotFound
		}
		return nil, err
	}
	return fromTicketModel(m)
}

func (s *Store) SetChallenge(ctx context.Context, ticketID id.TicketID, challenge json.RawMessage, at time.Time) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("challenge = $1", string(challenge)).
		Set("updated_at = $2", at.UTC()).
		Where("id = $3", ticketID.String()).
		Where("payment_status = $4", string(ticket.PaymentPending)).
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

func (s *Store) SettleTicket(ctx context.Context, ticketID id.TicketID, paidAt, expiresAt time.Time) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("payment_status = $1", string(ticket.PaymentPaid)).
		Set("status = $2", string(ticket.StatusActive)).
		Set("paid_at = $3", paidAt).
		Set("expires_at = $4", expiresAt).
		Set("updated_at = $5", paidAt.UTC()).
		Where("id = $6", ticketID.String()).
		Where("payment_status = $7", string(ticket.PaymentPending)).
		Where("status = $8", string(ticket.StatusPending)).
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

func (s *Store) FailTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("payment_status = $1", string(ticket.PaymentFailed)).
		Set("updated_at = $2", at.UTC()).
		Where("id = $3", ticketID.String()).
		Where("payment_status = $4", string(ticket.PaymentPending)).
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

func (s *Store) StartWatching(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("watch_started_at = $1", at).
		Set("updated_at = $2", at.UTC()).
		Where("id = $3", ticketID.String()).
		Where("status = $4", string(ticket.StatusActive)).
		Where("watch_started_at IS NULL").
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

func (s *Store) CompleteTicket(ctx context.Context, ticketID id.TicketID, at time.Time, frames int64, cost types.Money) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("status = $1", string(ticket.StatusCompleted)).
		Set("completed_at = $2", at).
		Set("frame_count = $3", frames).
		Set("metered_amount = $4", cost.Amount).
		Set("updated_at = $5", at.UTC()).
		Where("id = $6", ticketID.String()).
		Where("status = $7", string(ticket.StatusActive)).
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

func (s *Store) ExpireTicket(ctx context.Context, ticketID id.TicketID, at time.Time) error {
	res, err := s.pg.NewUpdate((*ticketModel)(nil)).
		Set("status = $1", string(ticket.StatusExpired)).
		Set("updated_at = $2", at.UTC()).
		Where("id = $3", ticketID.String()).
		Where("status = $4", string(ticket.StatusActive)).
		Exec(ctx)
	return s.transitioned(ctx, ticketID, res, err)
}

// ExpireTickets selects candidates and expires each with a conditional
// update, so a ticket whose session opened in between is left alone.
func (s *Store) ExpireTickets(ctx context.Context, before time.Time) ([]*ticket.Ticket, error) {
	var models []ticketModel
	err := s.pg.NewSelect(&models).
		Where("status = $1", string(ticket.StatusActive)).
		Where("watch_started_at IS NULL").
		Where("expires_at <= $2", before).
		OrderExpr("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	expired := make([]*ticket.Ticket, 0, len(models))
	for i := range models {
		res, err := s.pg.NewUpdate((*ticketModel)(nil)).
			Set("status = $1", string(ticket.StatusExpired)).
			Set("updated_at = $2", before.UTC()).
			Where("id = $3", models[i].ID).
			Where("status = $4", string(ticket.StatusActive)).
			Where("watch_started_at IS NULL").
			Exec(ctx)
		if err != nil {
			return expired, err
		}
		if rows, err := res.RowsAffected(); err != nil || rows == 0 {
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

// transitioned maps a conditional ticket update to the store contract:
// no matching row is either a missing ticket or a lost race.
func (s *Store) transitioned(ctx context.Context, ticketID id.TicketID, res result, err error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
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
	models := make([]usageEventModel, len(events))
	for i, e := range events {
		models[i] = *toUsageEventModel(e)
	}
	_, err := s.pg.NewInsert(&models).
		OnConflict("(idempotency_key) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) QueryUsage(ctx context.Context, ticketID id.TicketID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	var models []usageEventModel
	q := s.pg.NewSelect(&models).
		Where("ticket_id = $1", ticketID.String())

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("frame_number ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.pg.NewInsert(toDigestModel(d)).
		OnConflict("DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ticketbooth/postgres: create digest: %w", err)
	}
	return ifNone(res, ticketbooth.ErrDigestExists)
}

func (s *Store) GetDigest(ctx context.Context, digestID id.DigestID) (*digest.Digest, error) {
	return s.getDigest(ctx, "id = $1", digestID.String())
}

func (s *Store) GetDigestByTicket(ctx context.Context, ticketID id.TicketID) (*digest.Digest, error) {
	return s.getDigest(ctx, "ticket_id = $1", ticketID.String())
}

func (s *Store) getDigest(ctx context.Context, where string, arg any) (*digest.Digest, error) {
	m := new(digestModel)
	if err := s.pg.NewSelect(m).Where(where, arg).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, ticketbooth.ErrDigestNotFound
		}
		return nil, err
	}
	return fromDigestModel(m)
}

func (s *Store) MarkDigestDelivered(ctx context.Context, digestID id.DigestID, at time.Time) error {
	res, err := s.pg.NewUpdate((*digestModel)(nil)).
		Set("sent_to_owner = $1", true).
		Set("sent_at = $2", at).
		Set("updated_at = $3", at).
		Where("id = $4", digestID.String()).
		Where("sent_to_owner = $5", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetDigest(ctx, digestID); err != nil {
		return err
	}
	return ticketbooth.ErrTransitionConflict
}

func (s *Store) ListUndeliveredDigests(ctx context.Context, limit int) ([]*digest.Digest, error) {
	var models []digestModel
	q := s.pg.NewSelect(&models).
		Where("sent_to_owner = $1", false).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// result is the part of a grove exec result the store inspects.
type result interface {
	RowsAffected() (int64, error)
}

// ifNone returns sentinel when an insert or update touched no rows.
func ifNone(res result, sentinel error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sentinel
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
