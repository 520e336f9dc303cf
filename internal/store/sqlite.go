package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jredh-dev/sms-relay/internal/sms"
)

// AUTOINCREMENT keeps ids from ever being reused.
const sqliteTable = `
CREATE TABLE IF NOT EXISTS sms_messages (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	sms_id         TEXT,
	sender         TEXT NOT NULL DEFAULT '',
	recipient      TEXT NOT NULL DEFAULT '',
	message        TEXT NOT NULL CHECK (message <> ''),
	norm_recipient TEXT NOT NULL,
	received_at    DATETIME NOT NULL
)`

const sqliteIndex = `CREATE INDEX IF NOT EXISTS idx_norm_recipient ON sms_messages(norm_recipient)`

// SQLite is the SQLite-backed Store.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite", path+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// One connection serializes reads and writes in this process;
	// busy_timeout covers writers in other processes.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, storageErr("ping database", err)
	}
	return &SQLite{conn: conn}, nil
}

// Bootstrap creates the sms_messages table and its index.
func (s *SQLite) Bootstrap(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqliteTable); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqliteIndex); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		return nil
	})
	if err != nil {
		return storageErr("bootstrap schema", err)
	}
	return nil
}

// Insert stores msg with a server-assigned received_at.
func (s *SQLite) Insert(ctx context.Context, msg sms.Message) (*sms.Message, error) {
	msg.NormRecipient = sms.Normalize(msg.Recipient)
	msg.ReceivedAt = time.Now().UTC()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO sms_messages (sms_id, sender, recipient, message, norm_recipient, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sql.NullString{String: msg.SMSID, Valid: msg.SMSID != ""}, msg.Sender, msg.Recipient, msg.Body, msg.NormRecipient, msg.ReceivedAt,
		)
		if err != nil {
			return err
		}
		msg.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, storageErr("insert message", err)
	}
	return &msg, nil
}

// Latest returns the newest message for normRecipient, or nil.
func (s *SQLite) Latest(ctx context.Context, normRecipient string) (*sms.Message, error) {
	var found *sms.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			m                        sms.Message
			smsID, sender, recipient sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, sms_id, sender, recipient, message, norm_recipient, received_at
			 FROM sms_messages WHERE norm_recipient = ?
			 ORDER BY id DESC LIMIT 1`,
			normRecipient,
		).Scan(&m.ID, &smsID, &sender, &recipient, &m.Body, &m.NormRecipient, &m.ReceivedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		m.SMSID, m.Sender, m.Recipient = smsID.String, sender.String, recipient.String
		found = &m
		return nil
	})
	if err != nil {
		return nil, storageErr("latest message", err)
	}
	return found, nil
}

// Ping checks the connection.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return storageErr("ping database", err)
	}
	return nil
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
