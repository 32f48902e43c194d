package model

import (
	"fmt"
	"time"

	"marketplace-backend/internal/situation"
)

// EventType names the state change carried by an Event.
type EventType string

const (
	EventRequestCreated  EventType = "RequestCreated"
	EventRequestResolved EventType = "RequestResolved"
)

// Event is emitted after a request state change commits. It is stored in the
// outbox, published to topic marketplace.requests and consumed by projectors.
// Delivery is at-least-once; consumers dedupe on DedupeKey.
type Event struct {
	EventID         string              `json:"eventId"`
	Type            EventType           `json:"type"`
	RequestID       uint                `json:"requestId"`
	ListingID       uint                `json:"listingId"`
	OwnerUserID     uint                `json:"ownerUserId,omitempty"`
	RequesterUserID uint                `json:"requesterUserId,omitempty"`
	Situation       situation.Situation `json:"situation"`
	OccurredAt      time.Time           `json:"occurredAt"`
}

// DedupeKey identifies the state change independently of delivery attempts.
func (e Event) DedupeKey() string {
	return fmt.Sprintf("%d:%s", e.RequestID, e.Situation)
}

// Recipient is the user who should be told about the change.
func (e Event) Recipient() uint {
	switch e.Type {
	case EventRequestCreated:
		return e.OwnerUserID
	case EventRequestResolved:
		return e.RequesterUserID
	}
	return 0
}

// OutboxEvent is an Event written in the same transaction as the state change
// it describes, waiting to be relayed to the transport.
type OutboxEvent struct {
	ID          uint       `gorm:"primaryKey"`
	EventID     string     `gorm:"size:36;uniqueIndex;not null"`
	EventType   EventType  `gorm:"size:32;not null"`
	RequestID   uint       `gorm:"index;not null"`
	Payload     []byte     `gorm:"not null"`
	Attempts    int        `gorm:"not null;default:0"`
	CreatedAt   time.Time
	DeliveredAt *time.Time `gorm:"index"`
}
