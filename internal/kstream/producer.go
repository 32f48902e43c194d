package kstream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/model"
)

// messageWriter is the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends request events to the notification topic.
type Publisher struct {
	w messageWriter
}

// NewPublisher constructs a Kafka producer using segmentio/kafka-go.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...), // segmentio/kafka-go: TCP addresses for the Kafka brokers
		Topic:        cfg.Topic,                 // Target Kafka topic name
		Balancer:     &kafka.Hash{},             // segmentio/kafka-go: same key -> same partition, so a request's events stay ordered
		RequiredAcks: kafka.RequireAll,          // segmentio/kafka-go: wait for all in-sync replicas before the outbox row is marked delivered
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Publish writes events synchronously, keyed by request id.
func (p *Publisher) Publish(ctx context.Context, events []model.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		// segmentio/kafka-go: Key is used for partitioning.
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatUint(uint64(evt.RequestID), 10)),
			Value: data,
			Time:  evt.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(evt.Type)},
				{Key: "event-id", Value: []byte(evt.EventID)},
			},
		})
	}
	return p.w.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
