package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink writes every event to one Kafka topic, keyed by entity id so all
// events of an entity land on the same partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a KafkaSink.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver writes one message.
func (s *KafkaSink) Deliver(ctx context.Context, d Delivery) error {
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(d.Event.EntityID),
		Value: d.Data,
		Time:  d.Event.Timestamp,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(d.Topic)},
			{Key: "type", Value: []byte(d.Event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
