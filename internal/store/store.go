// nexus sms-relay - inbound SMS relay
// Copyright (C) 2025  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// Package store persists inbound SMS messages in the sms_messages table.
//
// Two backends share one schema: PostgreSQL (pgx pool) for deployments and
// SQLite for local runs and tests.  Open picks one from the DSN.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jredh-dev/sms-relay/internal/sms"
)

// ErrStorage marks every failure coming out of a Store: unreachable
// database, constraint violation or query error.
var ErrStorage = errors.New("storage error")

// ErrUnsupportedDSN is returned by Open for a DSN it cannot route.
var ErrUnsupportedDSN = errors.New("unsupported database url")

// Store is the message persistence layer.  Each call runs in its own
// transaction that either commits fully or leaves nothing behind.
type Store interface {
	// Insert stores msg and returns it with ID and ReceivedAt filled in.
	// NormRecipient is always re-derived from Recipient.
	Insert(ctx context.Context, msg sms.Message) (*sms.Message, error)

	// Latest returns the newest message (highest ID) whose norm_recipient
	// equals normRecipient, or nil if there is none.
	Latest(ctx context.Context, normRecipient string) (*sms.Message, error)

	// Bootstrap creates the table and the norm_recipient index if missing.
	// It never alters an existing table.
	Bootstrap(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the database named by dsn:
//
//	postgres://... or postgresql://...  PostgreSQL
//	sqlite://path, file:path, *.db      SQLite
//
// Open does not create the schema; call Bootstrap before serving traffic.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedDSN)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		// Passed to the driver as is.
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDSN, redact(dsn))
	}

	lite, err := OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// optional maps the empty string to SQL NULL.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// redact drops anything that may be a password from a DSN before it ends up
// in an error message.
func redact(dsn string) string {
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme + "://..."
	}
	if len(dsn) > 16 {
		return dsn[:16] + "..."
	}
	return dsn
}
