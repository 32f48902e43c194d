// Package dispatch relays committed outbox rows to the notification transport.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketplace-backend/internal/config"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/store"
)

// Publisher delivers events to the transport. Publish must either deliver
// every event or return an error; partial delivery is retried as a whole.
type Publisher interface {
	Publish(ctx context.Context, events []model.Event) error
}

// Enqueue stores evt in the outbox inside tx. It leaves the process only
// after tx commits.
func Enqueue(tx *gorm.DB, evt model.Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return tx.Create(&model.OutboxEvent{
		EventID:   evt.EventID,
		EventType: evt.Type,
		RequestID: evt.RequestID,
		Payload:   payload,
	}).Error
}

// Dispatcher publishes undelivered outbox rows in id order.
type Dispatcher struct {
	store    *store.Store
	pub      Publisher
	log      *zap.Logger
	batch    int
	interval time.Duration
	wake     chan struct{}
	mu       sync.Mutex
}

func New(st *store.Store, pub Publisher, cfg config.DispatchConfig, log *zap.Logger) *Dispatcher {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		store:    st,
		pub:      pub,
		log:      log.Named("dispatch"),
		batch:    batch,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Notify asks Run to flush now. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run flushes on every wake-up and poll tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info("outbox relay started", zap.Duration("poll_interval", d.interval), zap.Int("batch_size", d.batch))
	for {
		if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("outbox flush failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			d.log.Info("outbox relay stopped")
			return ctx.Err()
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// Flush publishes pending rows batch by batch and returns how many were
// delivered. A failed batch bumps its attempt counters and stops the pass.
func (d *Dispatcher) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivered := 0
	for {
		var rows []model.OutboxEvent
		err := d.store.Read(ctx, func(db *gorm.DB) error {
			return db.Where("delivered_at IS NULL").Order("id").Limit(d.batch).Find(&rows).Error
		})
		if err != nil {
			return delivered, err
		}
		if len(rows) == 0 {
			return delivered, nil
		}

		ids := make([]uint, 0, len(rows))
		events := make([]model.Event, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
			var evt model.Event
			if err := json.Unmarshal(row.Payload, &evt); err != nil {
				// Undecodable rows are retired so they cannot block the queue.
				d.log.Error("dropping undecodable outbox row", zap.Uint("outbox_id", row.ID), zap.Error(err))
				continue
			}
			events = append(events, evt)
		}

		if len(events) > 0 {
			if err := d.pub.Publish(ctx, events); err != nil {
				_ = d.store.Tx(ctx, func(tx *gorm.DB) error {
					return tx.Model(&model.OutboxEvent{}).Where("id IN ?", ids).
						UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
				})
				return delivered, fmt.Errorf("publish %d events: %w", len(events), err)
			}
		}

		now := time.Now().UTC()
		err = d.store.Tx(ctx, func(tx *gorm.DB) error {
			return tx.Model(&model.OutboxEvent{}).Where("id IN ?", ids).
				UpdateColumn("delivered_at", now).Error
		})
		if err != nil {
			return delivered, err
		}
		delivered += len(events)
		d.log.Debug("outbox batch delivered", zap.Int("events", len(events)))

		if len(rows) < d.batch {
			return delivered, nil
		}
	}
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []model.Event) error

func (f PublisherFunc) Publish(ctx context.Context, events []model.Event) error {
	return f(ctx, events)
}
