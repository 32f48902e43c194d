// Package store opens the transactional datastore and runs every operation
// under a bounded timeout, turning driver failures into transient errors.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
)

// Store wraps the GORM handle with the per-operation timeout.
type Store struct {
	DB        *gorm.DB
	OpTimeout time.Duration
}

// Open connects to the configured driver. SQLite is limited to a single open
// connection so concurrent writers queue instead of failing with SQLITE_BUSY.
func Open(cfg config.StoreConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	return &Store{DB: db, OpTimeout: cfg.OpTimeout}, nil
}

// Migrate creates or updates every table the subsystem owns.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&situation.Record{},
		&model.Listing{},
		&model.TransactionRequest{},
		&model.ReadReceipt{},
		&model.ItemRating{},
		&model.UserRating{},
		&model.OutboxEvent{},
		&model.IdempotencyKey{},
	)
}

// Tx runs fn in one transaction bounded by OpTimeout. Nothing fn wrote is
// visible unless it returns nil.
func (s *Store) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.OpTimeout)
	defer cancel()
	return Classify(s.DB.WithContext(ctx).Transaction(fn))
}

// Read runs fn outside a transaction, bounded by OpTimeout.
func (s *Store) Read(ctx context.Context, fn func(db *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.OpTimeout)
	defer cancel()
	return Classify(fn(s.DB.WithContext(ctx)))
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.OpTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Classify passes domain errors through and reports everything else coming
// out of the driver as Transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, "record not found", err)
	}
	return apperr.Wrap(apperr.CodeTransient, "store unavailable", err)
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
