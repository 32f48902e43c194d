// Package ledger owns transaction requests and their state machine:
// pending -> concluded and pending -> declined, each taken exactly once.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/catalog"
	"marketplace-backend/internal/dispatch"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store"
)

// Notifier is woken after a state change commits.
type Notifier interface {
	Notify()
}

type nopNotifier struct{}

func (nopNotifier) Notify() {}

// Decision is the owner's answer to a pending request.
type Decision string

const (
	Approve Decision = "approve"
	Decline Decision = "decline"
)

// CreateRequestInput describes a new claim against a listing.
type CreateRequestInput struct {
	ListingID      uint                  `validate:"required"`
	RequesterID    uint                  `validate:"required"`
	Kind           model.TransactionKind `validate:"required,oneof=donation exchange other"`
	OfferListingID *uint                 `validate:"required_if=Kind exchange"`
	Note           string                `validate:"max=1000"`
	IdempotencyKey string                `validate:"max=128"`
}

// ResolveRequestInput is the owner's decision on a pending request.
type ResolveRequestInput struct {
	RequestID      uint     `validate:"required"`
	ResolverID     uint     `validate:"required"`
	Decision       Decision `validate:"required,oneof=approve decline"`
	ResponseNote   string   `validate:"max=1000"`
	IdempotencyKey string   `validate:"max=128"`
}

type Service struct {
	store    *store.Store
	reg      *situation.Registry
	notifier Notifier
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds the ledger. notifier may be nil.
func NewService(st *store.Store, reg *situation.Registry, notifier Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		store:    st,
		reg:      reg,
		notifier: notifier,
		log:      log.Named("ledger"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest records a pending request from in.RequesterID against
// in.ListingID. At most one pending request exists per requester and listing.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (model.TransactionRequest, error) {
	if in.Kind != model.KindExchange {
		in.OfferListingID = nil
	}
	if err := s.validate.Struct(in); err != nil {
		return model.TransactionRequest{}, apperr.FromValidator(err)
	}

	fp := fingerprint(in.ListingID, in.Kind, in.OfferListingID, in.Note)
	var (
		out      model.TransactionRequest
		replayed bool
	)
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		if in.IdempotencyKey != "" {
			id, found, err := lookupKey(tx, scopeCreate, in.RequesterID, in.IdempotencyKey, fp)
			if err != nil {
				return err
			}
			if found {
				replayed = true
				out, err = s.find(tx, id)
				return err
			}
		}

		listing, err := catalog.Get(tx, in.ListingID)
		if err != nil {
			return err
		}
		if listing.AvailableQuantity < 1 {
			return apperr.Newf(apperr.CodeListingUnavailable, "listing %d has no available units", listing.ID)
		}
		if listing.OwnerUserID == in.RequesterID {
			return apperr.ErrSelfRequestNotAllowed
		}
		if in.OfferListingID != nil {
			if err := checkOffer(tx, *in.OfferListingID, in.RequesterID); err != nil {
				return err
			}
		}

		key := model.PendingKeyFor(in.RequesterID, in.ListingID)
		var pending int64
		if err := tx.Model(&model.TransactionRequest{}).Where("pending_key = ?", key).Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.ErrDuplicatePendingRequest
		}

		req := model.TransactionRequest{
			ListingID:              listing.ID,
			ExchangeOfferListingID: in.OfferListingID,
			TransactionKind:        in.Kind,
			RequesterUserID:        in.RequesterID,
			OwnerUserID:            listing.OwnerUserID,
			SituationID:            s.reg.ID(situation.Pending),
			RequesterNote:          in.Note,
			PendingKey:             &key,
		}
		if err := tx.Create(&req).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.ErrDuplicatePendingRequest
			}
			return err
		}
		req.Situation = situation.Pending

		err = dispatch.Enqueue(tx, model.Event{
			Type:            model.EventRequestCreated,
			RequestID:       req.ID,
			ListingID:       req.ListingID,
			OwnerUserID:     req.OwnerUserID,
			RequesterUserID: req.RequesterUserID,
			Situation:       situation.Pending,
			OccurredAt:      s.now(),
		})
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if err := saveKey(tx, scopeCreate, in.RequesterID, in.IdempotencyKey, fp, req.ID); err != nil {
				if store.IsUniqueViolation(err) {
					return apperr.ErrDuplicatePendingRequest
				}
				return err
			}
		}
		out = req
		return nil
	})
	if err != nil {
		return model.TransactionRequest{}, err
	}

	if !replayed {
		s.notifier.Notify()
		s.log.Info("request created",
			zap.Uint("request_id", out.ID),
			zap.Uint("listing_id", out.ListingID),
			zap.Uint("requester_id", out.RequesterUserID),
			zap.String("kind", string(out.TransactionKind)))
	}
	return out, nil
}

func checkOffer(tx *gorm.DB, offerID, requesterID uint) error {
	offer, err := catalog.Get(tx, offerID)
	if apperr.CodeOf(err) == apperr.CodeNotFound {
		return apperr.Newf(apperr.CodeOfferListingUnavailable, "offered listing %d does not exist", offerID)
	}
	if err != nil {
		return err
	}
	if offer.OwnerUserID != requesterID {
		return apperr.Newf(apperr.CodeOfferListingUnavailable, "offered listing %d is not yours", offerID)
	}
	if offer.AvailableQuantity < 1 {
		return apperr.Newf(apperr.CodeOfferListingUnavailable, "offered listing %d has no available units", offerID)
	}
	return nil
}

// ResolveRequest applies the owner's decision. Only the first resolution of a
// request wins; later callers get AlreadyResolved. Approval takes one unit of
// inventory in the same transaction and fails with ListingUnavailable, leaving
// the request pending, when none is left.
func (s *Service) ResolveRequest(ctx context.Context, in ResolveRequestInput) (model.TransactionRequest, error) {
	if err := s.validate.Struct(in); err != nil {
		return model.TransactionRequest{}, apperr.FromValidator(err)
	}

	fp := fingerprint(in.RequestID, in.Decision, in.ResponseNote)
	var (
		out      model.TransactionRequest
		replayed bool
	)
	err := s.store.Tx(ctx, func(tx *gorm.DB) error {
		if in.IdempotencyKey != "" {
			id, found, err := lookupKey(tx, scopeResolve, in.ResolverID, in.IdempotencyKey, fp)
			if err != nil {
				return err
			}
			if found {
				replayed = true
				out, err = s.find(tx, id)
				return err
			}
		}

		req, err := s.find(tx, in.RequestID)
		if err != nil {
			return err
		}
		if req.OwnerUserID != in.ResolverID {
			return apperr.ErrNotOwner
		}
		next, err := transition(req.Situation, in.Decision)
		if err != nil {
			return err
		}

		now := s.now()
		res := tx.Model(&model.TransactionRequest{}).
			Where("id = ? AND situation_id = ?", req.ID, s.reg.ID(situation.Pending)).
			Updates(map[string]interface{}{
				"situation_id":        s.reg.ID(next),
				"resolved_at":         now,
				"pending_key":         nil,
				"owner_response_note": in.ResponseNote,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.CodeAlreadyResolved, "request %d was resolved concurrently", req.ID)
		}
		if next == situation.Concluded {
			if err := catalog.DecrementAvailability(tx, req.ListingID); err != nil {
				return err
			}
		}

		req.Situation = next
		req.SituationID = s.reg.ID(next)
		req.ResolvedAt = &now
		req.PendingKey = nil
		req.OwnerResponseNote = in.ResponseNote

		err = dispatch.Enqueue(tx, model.Event{
			Type:            model.EventRequestResolved,
			RequestID:       req.ID,
			ListingID:       req.ListingID,
			OwnerUserID:     req.OwnerUserID,
			RequesterUserID: req.RequesterUserID,
			Situation:       next,
			OccurredAt:      now,
		})
		if err != nil {
			return err
		}
		if in.IdempotencyKey != "" {
			if err := saveKey(tx, scopeResolve, in.ResolverID, in.IdempotencyKey, fp, req.ID); err != nil {
				if store.IsUniqueViolation(err) {
					return apperr.ErrAlreadyResolved
				}
				return err
			}
		}
		out = req
		return nil
	})
	if err != nil {
		return model.TransactionRequest{}, err
	}

	if !replayed {
		s.notifier.Notify()
		s.log.Info("request resolved",
			zap.Uint("request_id", out.ID),
			zap.Uint("listing_id", out.ListingID),
			zap.Stringer("situation", out.Situation))
	}
	return out, nil
}

// transition returns the state reached from `from` by decision d.
func transition(from situation.Situation, d Decision) (situation.Situation, error) {
	switch from {
	case situation.Pending:
		switch d {
		case Approve:
			return situation.Concluded, nil
		case Decline:
			return situation.Declined, nil
		}
		return situation.Unknown, apperr.Validationf("unknown decision %q", d)
	case situation.Concluded, situation.Declined:
		return situation.Unknown, apperr.Newf(apperr.CodeAlreadyResolved, "request already %s", from)
	case situation.Unknown:
	}
	return situation.Unknown, fmt.Errorf("request in unknown situation %d", from)
}
