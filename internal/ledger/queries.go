package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
)

// HistoryFilter narrows History. Zero fields do not filter.
type HistoryFilter struct {
	Kind model.TransactionKind
	From time.Time
	To   time.Time
}

// FindPending returns pending requests on the owner's listings, newest first.
func FindPending(tx *gorm.DB, reg *situation.Registry, ownerID uint) ([]model.TransactionRequest, error) {
	var reqs []model.TransactionRequest
	err := tx.Where("owner_user_id = ? AND situation_id = ?", ownerID, reg.ID(situation.Pending)).
		Order("id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return hydrate(reg, reqs)
}

// FindResolvedUnread returns the requester's resolved requests that have no
// read receipt from them, newest first.
func FindResolvedUnread(tx *gorm.DB, reg *situation.Registry, requesterID uint) ([]model.TransactionRequest, error) {
	var reqs []model.TransactionRequest
	err := tx.Where("requester_user_id = ? AND situation_id <> ?", requesterID, reg.ID(situation.Pending)).
		Where("NOT EXISTS (SELECT 1 FROM read_receipts rr WHERE rr.user_id = ? AND rr.request_id = transaction_requests.id)", requesterID).
		Order("id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return hydrate(reg, reqs)
}

func hydrate(reg *situation.Registry, reqs []model.TransactionRequest) ([]model.TransactionRequest, error) {
	for i := range reqs {
		s, err := reg.Situation(reqs[i].SituationID)
		if err != nil {
			return nil, err
		}
		reqs[i].Situation = s
	}
	return reqs, nil
}

func (s *Service) find(tx *gorm.DB, id uint) (model.TransactionRequest, error) {
	var req model.TransactionRequest
	err := tx.First(&req, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.TransactionRequest{}, apperr.NotFoundf("request %d not found", id)
	}
	if err != nil {
		return model.TransactionRequest{}, err
	}
	req.Situation, err = s.reg.Situation(req.SituationID)
	return req, err
}

func (s *Service) ListPending(ctx context.Context, ownerID uint) ([]model.TransactionRequest, error) {
	var out []model.TransactionRequest
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		var err error
		out, err = FindPending(db, s.reg, ownerID)
		return err
	})
	return out, err
}

func (s *Service) ListResolvedUnread(ctx context.Context, requesterID uint) ([]model.TransactionRequest, error) {
	var out []model.TransactionRequest
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		var err error
		out, err = FindResolvedUnread(db, s.reg, requesterID)
		return err
	})
	return out, err
}

// Get returns one request to either of its parties.
func (s *Service) Get(ctx context.Context, requestID, callerID uint) (model.TransactionRequest, error) {
	var out model.TransactionRequest
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		var err error
		out, err = s.find(db, requestID)
		if err != nil {
			return err
		}
		if !out.IsParty(callerID) {
			return apperr.ErrNotParty
		}
		return nil
	})
	if err != nil {
		return model.TransactionRequest{}, err
	}
	return out, nil
}

// History lists every request the user sent or received, newest first.
func (s *Service) History(ctx context.Context, userID uint, f HistoryFilter) ([]model.TransactionRequest, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, apperr.Validationf("unknown transaction kind %q", f.Kind)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, apperr.Validationf("from must not be after to")
	}

	var out []model.TransactionRequest
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		q := db.Where("requester_user_id = ? OR owner_user_id = ?", userID, userID)
		if f.Kind != "" {
			q = q.Where("transaction_kind = ?", f.Kind)
		}
		if !f.From.IsZero() {
			q = q.Where("created_at >= ?", f.From.UTC())
		}
		if !f.To.IsZero() {
			q = q.Where("created_at <= ?", f.To.UTC())
		}
		var reqs []model.TransactionRequest
		if err := q.Order("id DESC").Find(&reqs).Error; err != nil {
			return err
		}
		var err error
		out, err = hydrate(s.reg, reqs)
		return err
	})
	return out, err
}

// ListingHistory lists every request against a listing for its owner.
func (s *Service) ListingHistory(ctx context.Context, listingID, callerID uint) ([]model.TransactionRequest, error) {
	var out []model.TransactionRequest
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		listing, err := catalog.Get(db, listingID)
		if err != nil {
			return err
		}
		if listing.OwnerUserID != callerID {
			return apperr.Newf(apperr.CodeNotOwner, "only the owner can list requests for listing %d", listingID)
		}
		var reqs []model.TransactionRequest
		if err := db.Where("listing_id = ?", listingID).Order("id DESC").Find(&reqs).Error; err != nil {
			return err
		}
		out, err = hydrate(s.reg, reqs)
		return err
	})
	return out, err
}
