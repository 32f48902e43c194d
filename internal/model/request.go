package model

import (
	"fmt"
	"time"

	"marketplace-backend/internal/situation"
)

// TransactionKind is the type of exchange a requester proposes.
type TransactionKind string

const (
	KindDonation TransactionKind = "donation"
	KindExchange TransactionKind = "exchange"
	KindOther    TransactionKind = "other"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDonation, KindExchange, KindOther:
		return true
	}
	return false
}

// TransactionRequest is a claim by one user against another user's listing.
type TransactionRequest struct {
	ID                     uint                `gorm:"primaryKey" json:"id"`
	ListingID              uint                `gorm:"index;not null" json:"listingId"`
	ExchangeOfferListingID *uint               `json:"exchangeOfferListingId,omitempty"`
	TransactionKind        TransactionKind     `gorm:"size:16;not null" json:"transactionKind"`
	RequesterUserID        uint                `gorm:"index;not null" json:"requesterUserId"`
	OwnerUserID            uint                `gorm:"index;not null" json:"ownerUserId"`
	SituationID            uint                `gorm:"index;not null" json:"-"`
	Situation              situation.Situation `gorm:"-" json:"situation"`
	RequesterNote          string              `gorm:"size:1000" json:"requesterNote,omitempty"`
	OwnerResponseNote      string              `gorm:"size:1000" json:"ownerResponseNote,omitempty"`
	// PendingKey is "<requester>:<listing>" while pending and NULL afterwards;
	// its unique index allows one pending request per pair.
	PendingKey *string    `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// PendingKeyFor builds the PendingKey value for a requester and listing.
func PendingKeyFor(requesterID, listingID uint) string {
	return fmt.Sprintf("%d:%d", requesterID, listingID)
}

// IsParty reports whether userID is the requester or the owner.
func (r TransactionRequest) IsParty(userID uint) bool {
	return userID == r.RequesterUserID || userID == r.OwnerUserID
}

// Counterpart returns the other party of the request.
func (r TransactionRequest) Counterpart(userID uint) uint {
	if userID == r.RequesterUserID {
		return r.OwnerUserID
	}
	return r.RequesterUserID
}

// ReadReceipt marks that a user has seen a resolved request's outcome.
type ReadReceipt struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	RequestID uint      `gorm:"primaryKey;autoIncrement:false" json:"requestId"`
	ReadAt    time.Time `json:"readAt"`
}

// IdempotencyKey remembers the request produced by a caller-supplied token.
type IdempotencyKey struct {
	Scope       string    `gorm:"primaryKey;size:16"`
	UserID      uint      `gorm:"primaryKey;autoIncrement:false"`
	Key         string    `gorm:"primaryKey;size:128;column:idem_key"`
	Fingerprint string    `gorm:"size:64;not null"`
	RequestID   uint      `gorm:"not null"`
	CreatedAt   time.Time
}
