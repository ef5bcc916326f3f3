// Package publish forwards crossing events and local notifications to Kafka.
package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventProducer is the minimal publishing contract.
// It exists so tests can substitute a mock for the Kafka writer.
type EventProducer interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
	Close() error
}

// Producer implements EventProducer using segmentio/kafka-go.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ EventProducer = (*Producer)(nil)

// NewProducer creates a producer for the given brokers. Writes are
// synchronous so the caller sees delivery errors.
func NewProducer(brokers []string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	writer := kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{
		writer: &writer,
		logger: logger,
	}
}

// Publish writes one message.
func (p *Producer) Publish(ctx context.Context, topic string, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("publish failed", "topic", topic, "key", key, "error", err)
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("closing kafka producer failed", "error", err)
		return err
	}
	return nil
}
