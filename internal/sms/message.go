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

// Package sms holds the inbound SMS domain: the stored message type, phone
// number normalization and the optional Kafka inbox publisher.
package sms

import (
	"time"

	"github.com/google/uuid"
)

// Message is one ingested SMS, as stored in the sms_messages table.
// Rows are immutable once written.
type Message struct {
	// ID is assigned by the store on insert.  Higher IDs arrived later.
	ID int64 `json:"id"`

	// SMSID is the provider's correlation id.  Empty means the provider did
	// not send one; it is not unique.
	SMSID string `json:"sms_id,omitempty"`

	// Sender and Recipient are kept exactly as the provider sent them
	// (after trimming), unvalidated.
	Sender    string `json:"from"`
	Recipient string `json:"to"`

	// Body is the message text.  Never empty for a stored row.
	Body string `json:"message"`

	// NormRecipient is Normalize(Recipient) and is the lookup key.
	NormRecipient string `json:"norm_to"`

	ReceivedAt time.Time `json:"received_at"`
}

// NewMessage builds an unsaved Message, deriving NormRecipient from to.
func NewMessage(smsID, from, to, body string) Message {
	return Message{
		SMSID:         smsID,
		Sender:        from,
		Recipient:     to,
		Body:          body,
		NormRecipient: Normalize(to),
	}
}

// InboxEvent is the JSON schema published to the sms-inbox Kafka topic for
// every stored message.
//
//	{
//	  "event_id":    "550e8400-e29b-41d4-a716-446655440000",
//	  "id":          42,
//	  "sms_id":      "abc123",
//	  "from":        "+15550001234",
//	  "to":          "+1 202-555-1234",
//	  "norm_to":     "12025551234",
//	  "message":     "your code is 123456",
//	  "received_at": "2025-06-01T12:00:00Z"
//	}
type InboxEvent struct {
	// EventID is a fresh UUID per publish so consumers can spot replays.
	EventID string `json:"event_id"`
	Message
}

// NewInboxEvent wraps a stored message with a new event id.
func NewInboxEvent(m Message) InboxEvent {
	return InboxEvent{
		EventID: uuid.New().String(),
		Message: m,
	}
}
