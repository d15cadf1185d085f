// package models defines the data model for the moodlist workflow client
package models

import "time"

// Model is a record kept in the local session cache.
type Model interface {
	ID() string
	Sequence() int // human-readable position, allocated on insert
	CreatedAt() time.Time
	UpdatedAt() time.Time
	Validate() error
}

// Repository is the storage surface for one cache table.
//
// Get takes the local record id. List criteria keys are specific to each table; unknown keys are
// ignored. Delete is a soft delete.
type Repository[T Model] interface {
	NextSequence() (int, error)
	Create(model T) error
	Get(id string) (T, error)
	Update(model T) error
	Delete(id string) error
	List(criteria map[string]any) ([]T, error)
}
