package model

import "time"

// ItemRating is the requester's score for the item they received.
type ItemRating struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RequestID       uint      `gorm:"not null;uniqueIndex:ux_item_ratings_request_rater" json:"requestId"`
	ListingID       uint      `gorm:"index;not null" json:"listingId"`
	RaterUserID     uint      `gorm:"not null;uniqueIndex:ux_item_ratings_request_rater" json:"raterUserId"`
	Score           int       `gorm:"not null;check:score BETWEEN 1 AND 5" json:"score"`
	Note            string    `gorm:"size:200" json:"note,omitempty"`
	TransactionDate time.Time `json:"transactionDate"`
	CreatedAt       time.Time `json:"createdAt"`
}

// UserRating is one party's score for the other party's conduct.
type UserRating struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RequestID   uint      `gorm:"not null;uniqueIndex:ux_user_ratings_request_rater" json:"requestId"`
	RaterUserID uint      `gorm:"not null;uniqueIndex:ux_user_ratings_request_rater" json:"raterUserId"`
	RatedUserID uint      `gorm:"index;not null" json:"ratedUserId"`
	Score       int       `gorm:"not null;check:score BETWEEN 1 AND 5" json:"score"`
	Note        string    `gorm:"size:200" json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
