package kstream

import (
	"github.com/segmentio/kafka-go"

	"marketplace-backend/internal/config"
)

// NewReader creates a Kafka consumer using segmentio/kafka-go.
// Offsets are committed explicitly by the caller after a message is handled.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,       // segmentio/kafka-go: Kafka broker addresses
		Topic:          cfg.Topic,         // segmentio/kafka-go: Topic to consume from
		GroupID:        cfg.GroupID,       // segmentio/kafka-go: Consumer group ID (enables load balancing)
		MinBytes:       1,                 // events are small; deliver them as soon as they arrive
		MaxBytes:       10e6,              // segmentio/kafka-go: Max bytes per fetch
		CommitInterval: 0,                 // segmentio/kafka-go: synchronous CommitMessages
		StartOffset:    kafka.FirstOffset, // new groups replay the topic from the start
	})
}
