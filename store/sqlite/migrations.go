package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the ticketbooth store (SQLite).
var Migrations = migrate.NewGroup("ticketbooth")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_ticketbooth_agents",
			Version: "20260301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ticketbooth_agents (
    id                   TEXT PRIMARY KEY,
    agent_id             TEXT NOT NULL,
    wallet_address       TEXT NOT NULL DEFAULT '',
    balance_amount       INTEGER NOT NULL DEFAULT 0,
    balance_currency     TEXT NOT NULL DEFAULT 'usdc',
    balance_refreshed_at TIMESTAMP,
    owner_ref            TEXT NOT NULL DEFAULT '',
    owner_email          TEXT NOT NULL DEFAULT '',
    verified             INTEGER NOT NULL DEFAULT 0,
    created_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at           TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ticketbooth_agents_agent_id ON ticketbooth_agents (agent_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ticketbooth_agents`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ticketbooth_streams",
			Version: "20260301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ticketbooth_streams (
    id             TEXT PRIMARY KEY,
    url            TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    owner_id       TEXT NOT NULL DEFAULT '',
    price_amount   INTEGER NOT NULL DEFAULT 0,
    price_currency TEXT NOT NULL DEFAULT 'usdc',
    active         INTEGER NOT NULL DEFAULT 1,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ticketbooth_streams_url ON ticketbooth_streams (url);
CREATE INDEX IF NOT EXISTS idx_ticketbooth_streams_active ON ticketbooth_streams (active, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ticketbooth_streams`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ticketbooth_tickets",
			Version: "20260301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ticketbooth_tickets (
    id               TEXT PRIMARY KEY,
    agent_id         TEXT NOT NULL,
    stream_id        TEXT NOT NULL DEFAULT '',
    stream_url       TEXT NOT NULL,
    stream_title     TEXT NOT NULL DEFAULT '',
    payment_ref      TEXT NOT NULL,
    amount           INTEGER NOT NULL DEFAULT 0,
    currency         TEXT NOT NULL DEFAULT 'usdc',
    payment_status   TEXT NOT NULL DEFAULT 'pending',
    status           TEXT NOT NULL DEFAULT 'pending',
    challenge        TEXT,
    purchased_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    paid_at          TIMESTAMP,
    expires_at       TIMESTAMP,
    watch_started_at TIMESTAMP,
    completed_at     TIMESTAMP,
    frame_count      INTEGER NOT NULL DEFAULT 0,
    metered_amount   INTEGER NOT NULL DEFAULT 0,
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ticketbooth_tickets_payment_ref ON ticketbooth_tickets (payment_ref);
CREATE INDEX IF NOT EXISTS idx_ticketbooth_tickets_pending ON ticketbooth_tickets (agent_id, stream_url, status, payment_status);
CREATE INDEX IF NOT EXISTS idx_ticketbooth_tickets_expiry ON ticketbooth_tickets (status, expires_at) WHERE watch_started_at IS NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ticketbooth_tickets`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ticketbooth_usage_events",
			Version: "20260301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ticketbooth_usage_events (
    id              TEXT PRIMARY KEY,
    ticket_id       TEXT NOT NULL,
    agent_id        TEXT NOT NULL DEFAULT '',
    frame_number    INTEGER NOT NULL,
    cost_amount     INTEGER NOT NULL DEFAULT 0,
    cost_currency   TEXT NOT NULL DEFAULT 'usdc',
    kinds           TEXT NOT NULL DEFAULT '[]',
    timestamp       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    idempotency_key TEXT NOT NULL,
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ticketbooth_usage_ticket ON ticketbooth_usage_events (ticket_id, frame_number);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ticketbooth_usage_idempotency ON ticketbooth_usage_events (idempotency_key);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ticketbooth_usage_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_ticketbooth_digests",
			Version: "20260301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ticketbooth_digests (
    id                TEXT PRIMARY KEY,
    ticket_id         TEXT NOT NULL,
    agent_id          TEXT NOT NULL,
    stream_url        TEXT NOT NULL DEFAULT '',
    stream_title      TEXT NOT NULL DEFAULT '',
    summary           TEXT NOT NULL DEFAULT '',
    insights          TEXT NOT NULL DEFAULT '[]',
    sentiment         TEXT NOT NULL DEFAULT 'neutral',
    watch_duration_ms INTEGER NOT NULL DEFAULT 0,
    frame_count       INTEGER NOT NULL DEFAULT 0,
    metered_amount    INTEGER NOT NULL DEFAULT 0,
    analysis_amount   INTEGER NOT NULL DEFAULT 0,
    total_amount      INTEGER NOT NULL DEFAULT 0,
    currency          TEXT NOT NULL DEFAULT 'usdc',
    sent_to_owner     INTEGER NOT NULL DEFAULT 0,
    sent_at           TIMESTAMP,
    created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ticketbooth_digests_ticket ON ticketbooth_digests (ticket_id);
CREATE INDEX IF NOT EXISTS idx_ticketbooth_digests_undelivered ON ticketbooth_digests (created_at) WHERE sent_to_owner = 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS ticketbooth_digests`)
				return err
			},
		},
	)
}
