// Package events publishes content-item status changes to Kafka so
// downstream consumers can react without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// StatusEvent describes one item status transition.
type StatusEvent struct {
	ItemID     string    `json:"item_id"`
	OwnerID    string    `json:"owner_id"`
	Type       string    `json:"type"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits status events. A nil *Producer is a valid no-op Publisher
// so event publishing stays optional.
type Publisher interface {
	PublishStatusChange(ctx context.Context, ev StatusEvent) error
}

// Producer writes status events to a Kafka topic.
type Producer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewProducer creates a Kafka-backed producer.
func NewProducer(brokers []string, topic string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafkago.LeastBytes{},
		},
		logger: logger,
	}
}

// PublishStatusChange emits one event keyed by item id. A nil producer is a
// no-op.
func (p *Producer) PublishStatusChange(ctx context.Context, ev StatusEvent) error {
	if p == nil {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(ev.ItemID),
		Value: value,
	}); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
