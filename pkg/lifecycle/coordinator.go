// Package lifecycle owns photo status transitions. Every status change
// in the system, from ingest or from the worker, goes through the
// Coordinator so that the persisted row, the event log entry and the
// pushed notification always agree.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

var (
	ErrPhotoNotFound     = errors.New("photo not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Publisher pushes a status update to one topic.
type Publisher interface {
	Publish(topic string, update notify.StatusUpdate)
}

type Coordinator struct {
	store     store.Store
	publisher Publisher
	logger    *slog.Logger
}

func NewCoordinator(s store.Store, publisher Publisher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: s, publisher: publisher, logger: logger}
}

// Transition moves the photo to the target status and records an event
// of the same name. Redelivered work reapplies cleanly: a transition to
// the photo's current non-terminal status records a fresh event, and a
// transition on a terminal photo is a silent no-op returning the photo
// as it stands. Disallowed pairs return ErrInvalidTransition.
//
// The status update is published from inside the store transaction, so
// subscribers observe transitions for one photo in commit order.
func (c *Coordinator) Transition(photoID string, target domain.PhotoStatus, message string, meta json.RawMessage) (domain.Photo, error) {
	event := domain.Event{
		ID:       uuid.NewString(),
		PhotoID:  photoID,
		Type:     domain.EventType(target),
		Message:  message,
		Metadata: meta,
	}
	photo, decision, err := c.store.TransitionPhoto(photoID, target, event, func(p domain.Photo) {
		update := notify.StatusUpdate{
			PhotoID:   p.ID,
			Status:    string(p.Status),
			Message:   message,
			Timestamp: domain.FormatTimestamp(p.UpdatedAt),
		}
		c.publisher.Publish(notify.TopicAll, update)
		c.publisher.Publish(notify.TopicPhoto(p.ID), update)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("transition requested for missing photo",
				"photoId", photoID, "target", target)
			return domain.Photo{}, ErrPhotoNotFound
		}
		return domain.Photo{}, fmt.Errorf("transition photo %s to %s: %w", photoID, target, err)
	}
	switch decision {
	case domain.DecisionInvalid:
		c.logger.Warn("invalid status transition",
			"photoId", photoID, "from", photo.Status, "target", target)
		return photo, ErrInvalidTransition
	case domain.DecisionNoop:
		c.logger.Info("photo already terminal, transition skipped",
			"photoId", photoID, "status", photo.Status, "target", target)
	}
	return photo, nil
}
