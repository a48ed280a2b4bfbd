package domain

import (
	"encoding/json"
	"time"
)

type Photo struct {
	ID               string          `json:"id"`
	ShortID          string          `json:"shortId,omitempty"`
	Filename         string          `json:"filename"`
	OriginalFilename string          `json:"originalFilename"`
	Status           PhotoStatus     `json:"status"`
	Size             int64           `json:"size"`
	MimeType         string          `json:"mimeType"`
	StoragePath      string          `json:"-"`
	ThumbnailPath    string          `json:"-"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	IsFavorite       bool            `json:"isFavorite"`
	DeletedAt        *time.Time      `json:"deletedAt,omitempty"`
	UploadedAt       time.Time       `json:"uploadedAt"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Trashed reports whether the photo is soft-deleted. Trashed photos stay
// addressable by ID and keep processing; listings exclude them.
func (p Photo) Trashed() bool {
	return p.DeletedAt != nil
}

type EventType string

const (
	EventUploaded   EventType = "UPLOADED"
	EventQueued     EventType = "QUEUED"
	EventProcessing EventType = "PROCESSING"
	EventCompleted  EventType = "COMPLETED"
	EventFailed     EventType = "FAILED"
	EventDeleted    EventType = "DELETED"
	EventRestored   EventType = "RESTORED"
	EventRenamed    EventType = "RENAMED"
)

// Event is one append-only audit record for a photo. Events created inside a
// status transition share their timestamp with the photo's UpdatedAt.
type Event struct {
	ID        string          `json:"id"`
	PhotoID   string          `json:"photoId"`
	Type      EventType       `json:"eventType"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TimestampLayout is the wire format for notification and polling timestamps:
// UTC, millisecond precision, trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
