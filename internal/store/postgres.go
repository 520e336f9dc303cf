package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jredh-dev/sms-relay/internal/sms"
)

const postgresTable = `
CREATE TABLE IF NOT EXISTS sms_messages (
	id             BIGSERIAL PRIMARY KEY,
	sms_id         TEXT,
	sender         TEXT,
	recipient      TEXT,
	message        TEXT NOT NULL CHECK (message <> ''),
	norm_recipient TEXT NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const postgresIndex = `CREATE INDEX IF NOT EXISTS idx_norm_recipient ON sms_messages(norm_recipient)`

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates a connection pool for dsn.  Idle connections are
// health-checked in the background so a connection dropped by the server
// (or a serverless proxy) is replaced before a request picks it up.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storageErr("parse database url", err)
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("ping database", err)
	}
	return &Postgres{pool: pool}, nil
}

// Bootstrap creates the sms_messages table and its index.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, postgresTable); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		if _, err := tx.Exec(ctx, postgresIndex); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		return nil
	})
	if err != nil {
		return storageErr("bootstrap schema", err)
	}
	return nil
}

// Insert stores msg; id and received_at come from the database.
func (p *Postgres) Insert(ctx context.Context, msg sms.Message) (*sms.Message, error) {
	msg.NormRecipient = sms.Normalize(msg.Recipient)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO sms_messages (sms_id, sender, recipient, message, norm_recipient)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, received_at`,
			optional(msg.SMSID), msg.Sender, msg.Recipient, msg.Body, msg.NormRecipient,
		).Scan(&msg.ID, &msg.ReceivedAt)
	})
	if err != nil {
		return nil, storageErr("insert message", err)
	}
	return &msg, nil
}

// Latest returns the newest message for normRecipient, or nil.
func (p *Postgres) Latest(ctx context.Context, normRecipient string) (*sms.Message, error) {
	var found *sms.Message
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var (
			m                        sms.Message
			smsID, sender, recipient *string
		)
		err := tx.QueryRow(ctx,
			`SELECT id, sms_id, sender, recipient, message, norm_recipient, received_at
			 FROM sms_messages WHERE norm_recipient = $1
			 ORDER BY id DESC LIMIT 1`,
			normRecipient,
		).Scan(&m.ID, &smsID, &sender, &recipient, &m.Body, &m.NormRecipient, &m.ReceivedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		m.SMSID, m.Sender, m.Recipient = deref(smsID), deref(sender), deref(recipient)
		found = &m
		return nil
	})
	if err != nil {
		return nil, storageErr("latest message", err)
	}
	return found, nil
}

// Ping checks that a pooled connection can reach the server.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

// Close releases every pooled connection.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
