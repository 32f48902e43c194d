// Package readtracker records which resolved requests a user has seen and
// derives the unread badge from it.
package readtracker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/ledger"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store"
)

// Inbox is a consistent snapshot of what needs the user's attention.
type Inbox struct {
	Pending        []model.TransactionRequest `json:"pending"`
	ResolvedUnread []model.TransactionRequest `json:"resolvedUnread"`
	Total          int                        `json:"total"`
}

type Tracker struct {
	store *store.Store
	reg   *situation.Registry
	log   *zap.Logger
}

func New(st *store.Store, reg *situation.Registry, log *zap.Logger) *Tracker {
	return &Tracker{store: st, reg: reg, log: log.Named("readtracker")}
}

// MarkRead records receipts for the given requests. Ids that are not resolved
// requests created by userID are skipped, and repeated calls are no-ops.
// It returns how many new receipts were written.
func (t *Tracker) MarkRead(ctx context.Context, userID uint, requestIDs []uint) (int64, error) {
	if userID == 0 {
		return 0, apperr.Validationf("user id is required")
	}
	ids := dedupe(requestIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var written int64
	err := t.store.Tx(ctx, func(tx *gorm.DB) error {
		var eligible []uint
		err := tx.Model(&model.TransactionRequest{}).
			Where("id IN ? AND requester_user_id = ? AND situation_id <> ?", ids, userID, t.reg.ID(situation.Pending)).
			Pluck("id", &eligible).Error
		if err != nil {
			return err
		}
		if len(eligible) == 0 {
			return nil
		}

		now := time.Now().UTC()
		receipts := make([]model.ReadReceipt, 0, len(eligible))
		for _, id := range eligible {
			receipts = append(receipts, model.ReadReceipt{UserID: userID, RequestID: id, ReadAt: now})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipts)
		written = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, err
	}
	if written < int64(len(ids)) {
		t.log.Debug("read receipts skipped", zap.Uint("user_id", userID), zap.Int("requested", len(ids)), zap.Int64("written", written))
	}
	return written, nil
}

// UnreadCount is pending requests on the user's listings plus resolved
// requests they created and have not read, taken in one statement.
func (t *Tracker) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	pending := t.reg.ID(situation.Pending)
	var total int64
	err := t.store.Read(ctx, func(db *gorm.DB) error {
		return db.Raw(`SELECT
	(SELECT COUNT(*) FROM transaction_requests WHERE owner_user_id = ? AND situation_id = ?) +
	(SELECT COUNT(*) FROM transaction_requests tr
		WHERE tr.requester_user_id = ? AND tr.situation_id <> ?
		AND NOT EXISTS (SELECT 1 FROM read_receipts rr WHERE rr.user_id = ? AND rr.request_id = tr.id))`,
			userID, pending, userID, pending, userID).Scan(&total).Error
	})
	return total, err
}

// Inbox reads both lists in one transaction so Total matches them.
func (t *Tracker) Inbox(ctx context.Context, userID uint) (Inbox, error) {
	var in Inbox
	err := t.store.Tx(ctx, func(tx *gorm.DB) error {
		var err error
		if in.Pending, err = ledger.FindPending(tx, t.reg, userID); err != nil {
			return err
		}
		in.ResolvedUnread, err = ledger.FindResolvedUnread(tx, t.reg, userID)
		return err
	})
	if err != nil {
		return Inbox{}, err
	}
	in.Total = len(in.Pending) + len(in.ResolvedUnread)
	return in, nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
