// Package ratings collects item and counterpart ratings for concluded
// requests and aggregates them per listing and per user.
package ratings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/identity"
	"marketplace-backend/internal/model"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store"
)

// SummaryCache stores encoded summaries by key. A value is only stored when
// the key's generation still matches the one read before computing it, and
// Invalidate advances the generation.
type SummaryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context, key string) (int64, error)
	SetIfGeneration(ctx context.Context, key string, gen int64, val []byte) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (nopCache) Generation(context.Context, string) (int64, error) { return 0, nil }
func (nopCache) SetIfGeneration(context.Context, string, int64, []byte) (bool, error) {
	return false, nil
}
func (nopCache) Invalidate(context.Context, ...string) error { return nil }

// Summary aggregates scores. Mean is nil when Count is zero.
type Summary struct {
	Count int64    `json:"count"`
	Mean  *float64 `json:"mean,omitempty"`
}

// SubmitRatingsInput is one party's rating submission for a request. The
// requester rates the item and the owner; the owner rates only the requester.
type SubmitRatingsInput struct {
	RequestID       uint       `validate:"required"`
	RaterID         uint       `validate:"required"`
	ItemScore       *int       `validate:"omitempty,min=1,max=5"`
	ItemNote        string     `validate:"max=200"`
	TransactionDate *time.Time `validate:"omitempty"`
	UserScore       int        `validate:"min=1,max=5"`
	UserNote        string     `validate:"max=200"`
}

// ListingRating is an item rating with the rater's display name.
type ListingRating struct {
	model.ItemRating
	RaterName string `json:"raterName,omitempty"`
}

// ReceivedRating is a user rating with the rater's display name.
type ReceivedRating struct {
	model.UserRating
	RaterName string `json:"raterName,omitempty"`
}

type Collector struct {
	store    *store.Store
	reg      *situation.Registry
	cache    SummaryCache
	users    identity.Directory
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewCollector builds the collector. cache may be nil.
func NewCollector(st *store.Store, reg *situation.Registry, cache SummaryCache, users identity.Directory, log *zap.Logger) *Collector {
	if cache == nil {
		cache = nopCache{}
	}
	return &Collector{
		store:    st,
		reg:      reg,
		cache:    cache,
		users:    users,
		log:      log.Named("ratings"),
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func listingKey(id uint) string { return fmt.Sprintf("listing:%d", id) }
func userKey(id uint) string    { return fmt.Sprintf("user:%d", id) }

// SubmitRatings records the rater's ratings for a concluded request. A rater
// submits once per request; a second attempt fails with AlreadyRated and
// changes nothing.
func (c *Collector) SubmitRatings(ctx context.Context, in SubmitRatingsInput) error {
	if err := c.validate.Struct(in); err != nil {
		return apperr.FromValidator(err)
	}

	var invalidate []string
	err := c.store.Tx(ctx, func(tx *gorm.DB) error {
		var req model.TransactionRequest
		if err := tx.First(&req, in.RequestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("request %d not found", in.RequestID)
			}
			return err
		}
		if !req.IsParty(in.RaterID) {
			return apperr.ErrNotParty
		}
		if req.SituationID != c.reg.ID(situation.Concluded) {
			return apperr.Newf(apperr.CodeNotConcluded, "request %d is not concluded", req.ID)
		}

		isRequester := in.RaterID == req.RequesterUserID
		if isRequester {
			if in.ItemScore == nil {
				return apperr.Validationf("item score is required from the requester")
			}
			if in.TransactionDate == nil || in.TransactionDate.IsZero() {
				return apperr.Validationf("transaction date is required with an item rating")
			}
			if in.TransactionDate.After(c.now().Add(24 * time.Hour)) {
				return apperr.Validationf("transaction date cannot be in the future")
			}
		} else if in.ItemScore != nil || in.TransactionDate != nil || in.ItemNote != "" {
			return apperr.Validationf("the listing owner does not rate the item")
		}

		var existing int64
		err := tx.Model(&model.UserRating{}).
			Where("request_id = ? AND rater_user_id = ?", req.ID, in.RaterID).
			Count(&existing).Error
		if err != nil {
			return err
		}
		if existing == 0 && isRequester {
			err = tx.Model(&model.ItemRating{}).
				Where("request_id = ? AND rater_user_id = ?", req.ID, in.RaterID).
				Count(&existing).Error
			if err != nil {
				return err
			}
		}
		if existing > 0 {
			return apperr.ErrAlreadyRated
		}

		rated := req.Counterpart(in.RaterID)
		if isRequester {
			item := model.ItemRating{
				RequestID:       req.ID,
				ListingID:       req.ListingID,
				RaterUserID:     in.RaterID,
				Score:           *in.ItemScore,
				Note:            in.ItemNote,
				TransactionDate: in.TransactionDate.UTC(),
			}
			if err := tx.Create(&item).Error; err != nil {
				return alreadyRatedOr(err)
			}
			invalidate = append(invalidate, listingKey(req.ListingID))
		}
		user := model.UserRating{
			RequestID:   req.ID,
			RaterUserID: in.RaterID,
			RatedUserID: rated,
			Score:       in.UserScore,
			Note:        in.UserNote,
		}
		if err := tx.Create(&user).Error; err != nil {
			return alreadyRatedOr(err)
		}
		invalidate = append(invalidate, userKey(rated))
		return nil
	})
	if err != nil {
		return err
	}

	if err := c.cache.Invalidate(ctx, invalidate...); err != nil {
		c.log.Warn("summary cache invalidation failed", zap.Strings("keys", invalidate), zap.Error(err))
	}
	c.log.Info("ratings submitted", zap.Uint("request_id", in.RequestID), zap.Uint("rater_id", in.RaterID))
	return nil
}

func alreadyRatedOr(err error) error {
	if store.IsUniqueViolation(err) {
		return apperr.ErrAlreadyRated
	}
	return err
}

// ListingRatingSummary aggregates the item ratings of a listing.
func (c *Collector) ListingRatingSummary(ctx context.Context, listingID uint) (Summary, error) {
	return c.summary(ctx, listingKey(listingID), func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.ItemRating{}).Where("listing_id = ?", listingID)
	})
}

// UserRatingSummary aggregates the ratings a user received.
func (c *Collector) UserRatingSummary(ctx context.Context, userID uint) (Summary, error) {
	return c.summary(ctx, userKey(userID), func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.UserRating{}).Where("rated_user_id = ?", userID)
	})
}

func (c *Collector) summary(ctx context.Context, key string, scope func(*gorm.DB) *gorm.DB) (Summary, error) {
	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("summary cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		var s Summary
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
	}

	gen, err := c.cache.Generation(ctx, key)
	cacheable := err == nil
	if err != nil {
		c.log.Warn("summary cache generation read failed", zap.String("key", key), zap.Error(err))
	}

	var row struct {
		Count int64
		Mean  *float64
	}
	err = c.store.Read(ctx, func(db *gorm.DB) error {
		return scope(db).
			Select("COUNT(*) AS count, AVG(CAST(score AS DOUBLE PRECISION)) AS mean").
			Scan(&row).Error
	})
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Count: row.Count}
	if row.Count > 0 {
		s.Mean = row.Mean
	}
	if !cacheable {
		return s, nil
	}
	if raw, err := json.Marshal(s); err == nil {
		if _, err := c.cache.SetIfGeneration(ctx, key, gen, raw); err != nil {
			c.log.Warn("summary cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return s, nil
}

// ListingRatings lists a listing's item ratings, newest first.
func (c *Collector) ListingRatings(ctx context.Context, listingID uint) ([]ListingRating, error) {
	var rows []model.ItemRating
	err := c.store.Read(ctx, func(db *gorm.DB) error {
		return db.Where("listing_id = ?", listingID).Order("id DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.RaterUserID)
	}
	names := identity.DisplayNames(ctx, c.users, c.log, ids)

	out := make([]ListingRating, 0, len(rows))
	for _, r := range rows {
		out = append(out, ListingRating{ItemRating: r, RaterName: names[r.RaterUserID]})
	}
	return out, nil
}

// ReceivedRatings lists the ratings a user received, newest first.
func (c *Collector) ReceivedRatings(ctx context.Context, userID uint) ([]ReceivedRating, error) {
	var rows []model.UserRating
	err := c.store.Read(ctx, func(db *gorm.DB) error {
		return db.Where("rated_user_id = ?", userID).Order("id DESC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.RaterUserID)
	}
	names := identity.DisplayNames(ctx, c.users, c.log, ids)

	out := make([]ReceivedRating, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReceivedRating{UserRating: r, RaterName: names[r.RaterUserID]})
	}
	return out, nil
}
