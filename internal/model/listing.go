package model

import "time"

// Listing is a published item. Only the fields the request subsystem reads or
// mutates are modelled here.
type Listing struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	OwnerUserID       uint      `gorm:"index;not null" json:"ownerUserId"`
	Title             string    `gorm:"size:200" json:"title"`
	AvailableQuantity int       `gorm:"not null;check:available_quantity >= 0" json:"availableQuantity"`
	CreatedAt         time.Time `json:"createdAt"`
}
