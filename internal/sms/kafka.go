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

package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// InboxTopic is the default topic stored messages are published to.
const InboxTopic = "sms-inbox"

// Publisher fans a stored message out to downstream consumers.  The relay
// calls it only after the row is committed.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// KafkaPublisher writes InboxEvents to a Kafka topic, keyed by normalized
// recipient so every message for one number lands on the same partition
// and keeps its arrival order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// An empty topic means InboxTopic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = InboxTopic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish encodes msg as an InboxEvent and writes it synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	km, err := encodeInboxEvent(NewInboxEvent(msg))
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("write %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close flushes and releases the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// InboxReader consumes InboxEvents from the inbox topic.  Offsets are
// committed only after the handler returns nil, giving at-least-once
// delivery to the handler.
type InboxReader struct {
	reader *kafka.Reader
}

// NewInboxReader creates a reader in consumer group groupID.  An empty topic
// means InboxTopic.
func NewInboxReader(brokers []string, topic, groupID string) *InboxReader {
	if topic == "" {
		topic = InboxTopic
	}
	return &InboxReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20, // 1 MiB
			CommitInterval: 0,       // explicit commits only
			StartOffset:    kafka.LastOffset,
		}),
	}
}

// Run blocks, passing each event to fn until ctx is cancelled.  Events that
// fail to decode are logged and skipped; an error from fn stops Run without
// committing that event.
func (r *InboxReader) Run(ctx context.Context, fn func(InboxEvent) error) error {
	for {
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Clean shutdown.
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}

		ev, err := decodeInboxEvent(m)
		if err != nil {
			log.Printf("sms-inbox: skipping offset %d: %v", m.Offset, err)
		} else if err := fn(ev); err != nil {
			return err
		}

		if err := r.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("sms-inbox: commit failed (message may be redelivered): %v", err)
		}
	}
}

// Close releases the underlying reader.
func (r *InboxReader) Close() error {
	return r.reader.Close()
}

func encodeInboxEvent(ev InboxEvent) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal inbox event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.NormRecipient),
		Value: value,
	}, nil
}

func decodeInboxEvent(m kafka.Message) (InboxEvent, error) {
	var ev InboxEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return InboxEvent{}, fmt.Errorf("unmarshal inbox event: %w", err)
	}
	return ev, nil
}
