// Package projections turns request events into per-user notification feeds.
package projections

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"marketplace-backend/internal/deadletter"
	"marketplace-backend/internal/model"
)

// MessageReader is the subset of kafka.Reader the projector consumes from.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// DeadLetters receives messages that cannot be decoded.
type DeadLetters interface {
	Write(ctx context.Context, rec deadletter.Record) error
}

type Projector struct {
	feed    Feed
	dlq     DeadLetters
	log     *zap.Logger
	backoff time.Duration
}

func NewProjector(feed Feed, dlq DeadLetters, log *zap.Logger) *Projector {
	return &Projector{feed: feed, dlq: dlq, log: log.Named("projector"), backoff: time.Second}
}

// Apply adds evt to its recipient's feed once, however often it is delivered.
func (p *Projector) Apply(ctx context.Context, evt model.Event) error {
	key := evt.DedupeKey()
	first, err := p.feed.MarkSeen(ctx, key)
	if err != nil {
		return err
	}
	if !first {
		p.log.Debug("duplicate event dropped", zap.String("dedupe_key", key))
		return nil
	}

	recipient := evt.Recipient()
	if recipient == 0 {
		p.log.Warn("event has no recipient", zap.String("event_id", evt.EventID), zap.String("type", string(evt.Type)))
		return nil
	}
	err = p.feed.Push(ctx, recipient, Notification{
		EventID:    evt.EventID,
		Type:       evt.Type,
		RequestID:  evt.RequestID,
		ListingID:  evt.ListingID,
		Situation:  evt.Situation,
		OccurredAt: evt.OccurredAt,
	})
	if err != nil {
		if uerr := p.feed.Unsee(ctx, key); uerr != nil {
			p.log.Warn("failed to release dedupe key", zap.String("dedupe_key", key), zap.Error(uerr))
		}
		return err
	}
	return nil
}

// Publish applies events in process. It lets the dispatcher feed the
// projector directly when no broker is configured.
func (p *Projector) Publish(ctx context.Context, events []model.Event) error {
	for _, evt := range events {
		if err := p.Apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Run consumes r until ctx is cancelled. Each message is committed only after
// it has been projected or dead-lettered.
func (p *Projector) Run(ctx context.Context, r MessageReader) error {
	p.log.Info("projector started")
	for {
		// segmentio/kafka-go: FetchMessage does not commit; CommitMessages below does.
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("projector stopped")
				return ctx.Err()
			}
			return err
		}

		if err := p.handle(ctx, msg); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// handle projects msg, retrying feed failures until ctx ends.
func (p *Projector) handle(ctx context.Context, msg kafka.Message) error {
	var evt model.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		p.log.Warn("undecodable event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return p.dlq.Write(ctx, deadletter.Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       string(msg.Key),
			Value:     string(msg.Value),
			Reason:    err.Error(),
		})
	}

	for {
		err := p.Apply(ctx, evt)
		if err == nil {
			return nil
		}
		p.log.Warn("projection failed, retrying", zap.String("event_id", evt.EventID), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff):
		}
	}
}

// Recent returns the newest notifications for userID.
func (p *Projector) Recent(ctx context.Context, userID uint, limit int) ([]Notification, error) {
	return p.feed.Recent(ctx, userID, limit)
}
