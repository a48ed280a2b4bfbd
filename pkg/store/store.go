package store

import (
	"errors"
	"time"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
)

var (
	// ErrNotFound reports that no photo row exists for the given ID.
	ErrNotFound = errors.New("photo not found")
	// ErrConcurrentUpdate reports a lost optimistic-concurrency race: the
	// row changed between read and write. Callers re-read and retry once.
	ErrConcurrentUpdate = errors.New("photo modified concurrently")
)

// Sort orders accepted by ListPhotos.
const (
	SortUploadedDesc = "uploaded_at_desc"
	SortUpdatedDesc  = "updated_at_desc"
)

// PhotoFilter narrows photo listings. The zero value lists live photos
// (trash excluded) newest upload first.
type PhotoFilter struct {
	Status       *domain.PhotoStatus
	FavoriteOnly bool
	TrashOnly    bool
	Sort         string
}

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	PhotoID string
	Type    *domain.EventType
}

// Page is zero-based offset pagination. Size is clamped to 1..200 with a
// default of 50.
type Page struct {
	Number int
	Size   int
}

// Normalized clamps the page to its documented bounds. Stores apply it
// internally; transport code uses it to echo the effective size.
func (p Page) Normalized() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = 50
	}
	if p.Size > 200 {
		p.Size = 200
	}
	return p
}

// Store defines persistence for photos and their event log.
//
// Timestamp contract: TransitionPhoto and UpdatePhoto stamp the photo's
// UpdatedAt and the written event's Timestamp from one clock read, so an
// applied transition and its event always agree.
type Store interface {
	// photos
	CreatePhoto(p domain.Photo, ev domain.Event) error
	GetPhoto(id string) (domain.Photo, bool, error)
	GetPhotoByShortID(shortID string) (domain.Photo, bool, error)
	ListPhotos(filter PhotoFilter, page Page) ([]domain.Photo, int64, error)
	ListUpdatedAfter(after time.Time, ids []string) ([]domain.Photo, error)

	// TransitionPhoto applies a status change under a row lock after
	// consulting the transition table. On DecisionApply it writes the
	// status, appends ev, and runs publish inside the same transaction
	// so per-photo notification order matches commit order. On
	// DecisionNoop and DecisionInvalid nothing is written.
	TransitionPhoto(id string, target domain.PhotoStatus, ev domain.Event, publish func(domain.Photo)) (domain.Photo, domain.Decision, error)

	// UpdatePhoto persists the user-mutable fields (filename, favorite,
	// trash flag, thumbnail path, metadata) guarded by compare-and-set
	// on UpdatedAt, appending ev when non-nil.
	UpdatePhoto(p domain.Photo, ev *domain.Event) (domain.Photo, error)

	// DeletePhoto removes the row permanently; events cascade.
	DeletePhoto(id string) (bool, error)

	// events
	AppendEvent(ev domain.Event) error
	ListEventsByPhoto(photoID string) ([]domain.Event, error)
	ListEvents(filter EventFilter, page Page) ([]domain.Event, int64, error)
}
