// Package catalog is the narrow view of listings the request subsystem needs:
// lookup and the inventory compare-and-swap.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/store"
)

// Get loads a listing inside tx.
func Get(tx *gorm.DB, id uint) (model.Listing, error) {
	var l model.Listing
	err := tx.First(&l, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Listing{}, apperr.NotFoundf("listing %d not found", id)
	}
	return l, err
}

// DecrementAvailability takes one unit of listing id. It only succeeds while
// at least one unit is left, so two concurrent callers on the last unit get
// one success and one ListingUnavailable.
func DecrementAvailability(tx *gorm.DB, id uint) error {
	res := tx.Model(&model.Listing{}).
		Where("id = ? AND available_quantity >= 1", id).
		UpdateColumn("available_quantity", gorm.Expr("available_quantity - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrListingUnavailable
	}
	return nil
}

// CreateListingInput is what a caller supplies to publish a listing.
type CreateListingInput struct {
	OwnerID           uint   `validate:"required"`
	Title             string `validate:"required,max=200"`
	AvailableQuantity int    `validate:"gte=0"`
}

// Service exposes listing operations outside a ledger transaction.
type Service struct {
	store    *store.Store
	validate *validator.Validate
}

func NewService(st *store.Store) *Service {
	return &Service{store: st, validate: validator.New()}
}

func (s *Service) Create(ctx context.Context, in CreateListingInput) (model.Listing, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return model.Listing{}, apperr.FromValidator(err)
	}
	l := model.Listing{
		OwnerUserID:       in.OwnerID,
		Title:             in.Title,
		AvailableQuantity: in.AvailableQuantity,
	}
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&l).Error
	})
	return l, err
}

func (s *Service) Get(ctx context.Context, id uint) (model.Listing, error) {
	var l model.Listing
	err := s.store.Read(ctx, func(db *gorm.DB) error {
		var err error
		l, err = Get(db, id)
		return err
	})
	return l, err
}
