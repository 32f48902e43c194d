// Package situation holds the closed set of request states and the registry
// that maps them to the identifiers stored in the situations table.
package situation

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-backend/internal/apperr"
)

// Situation is the state of a transaction request.
type Situation uint8

const (
	Unknown Situation = iota
	Pending
	Concluded
	Declined
)

// All lists every valid situation in registry seed order.
var All = []Situation{Pending, Concluded, Declined}

func (s Situation) String() string {
	switch s {
	case Pending:
		return "pending"
	case Concluded:
		return "concluded"
	case Declined:
		return "declined"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s Situation) Terminal() bool {
	return s == Concluded || s == Declined
}

func (s Situation) MarshalText() ([]byte, error) {
	if s == Unknown {
		return nil, fmt.Errorf("situation: cannot marshal unknown situation")
	}
	return []byte(s.String()), nil
}

func (s *Situation) UnmarshalText(b []byte) error {
	v, ok := Parse(string(b))
	if !ok {
		return fmt.Errorf("situation: unknown name %q", string(b))
	}
	*s = v
	return nil
}

// Parse maps a name to a Situation.
func Parse(name string) (Situation, bool) {
	for _, s := range All {
		if s.String() == name {
			return s, true
		}
	}
	return Unknown, false
}

// Record is a row of the situations table.
type Record struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:32;uniqueIndex;not null"`
	CreatedAt time.Time
}

func (Record) TableName() string { return "situations" }

// Registry resolves situation names to stored ids and back. It is loaded once
// at boot and read-only afterwards.
type Registry struct {
	byName map[string]uint
	byID   map[uint]string
}

// Load reads the situations table, inserting missing names first when seed is
// true. A required name that is still missing is a configuration error.
func Load(ctx context.Context, db *gorm.DB, seed bool) (*Registry, error) {
	db = db.WithContext(ctx)
	if seed {
		for _, s := range All {
			rec := Record{Name: s.String()}
			err := db.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).Create(&rec).Error
			if err != nil {
				return nil, fmt.Errorf("seed situation %q: %w", s, err)
			}
		}
	}

	var records []Record
	if err := db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load situations: %w", err)
	}
	return FromRecords(records)
}

// FromRecords builds a Registry from rows, requiring every name in All.
func FromRecords(records []Record) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]uint, len(records)),
		byID:   make(map[uint]string, len(records)),
	}
	for _, rec := range records {
		r.byName[rec.Name] = rec.ID
		r.byID[rec.ID] = rec.Name
	}
	for _, s := range All {
		if _, ok := r.byName[s.String()]; !ok {
			return nil, apperr.NotFoundf("situation %q is not registered", s)
		}
	}
	return r, nil
}

// Resolve returns the stored id for name.
func (r *Registry) Resolve(name string) (uint, error) {
	id, ok := r.byName[name]
	if !ok {
		return 0, apperr.NotFoundf("situation %q is not registered", name)
	}
	return id, nil
}

// Name returns the name stored for id.
func (r *Registry) Name(id uint) (string, error) {
	name, ok := r.byID[id]
	if !ok {
		return "", apperr.NotFoundf("situation id %d is not registered", id)
	}
	return name, nil
}

// ID returns the stored id of s. Load guarantees every valid situation has one.
func (r *Registry) ID(s Situation) uint {
	return r.byName[s.String()]
}

// Situation maps a stored id back to the enumeration.
func (r *Registry) Situation(id uint) (Situation, error) {
	name, err := r.Name(id)
	if err != nil {
		return Unknown, err
	}
	s, ok := Parse(name)
	if !ok {
		return Unknown, apperr.NotFoundf("situation %q has no enumeration value", name)
	}
	return s, nil
}
