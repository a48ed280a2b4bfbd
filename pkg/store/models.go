package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type PhotoModel struct {
	ID               string         `gorm:"primaryKey;size:36"`
	ShortID          *string        `gorm:"size:12;uniqueIndex"`
	Filename         string         `gorm:"size:255;not null"`
	OriginalFilename string         `gorm:"size:255;not null"`
	Status           string         `gorm:"size:20;not null;index"`
	Size             int64          `gorm:"not null"`
	MimeType         string         `gorm:"size:100"`
	StoragePath      string         `gorm:"size:500"`
	ThumbnailPath    string         `gorm:"size:500"`
	Metadata         datatypes.JSON `gorm:"type:jsonb"`
	IsFavorite       bool           `gorm:"not null;default:false;index"`
	DeletedAt        *time.Time     `gorm:"index"`
	UploadedAt       time.Time      `gorm:"not null;index"`
	ProcessedAt      *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

type EventLogModel struct {
	ID        string         `gorm:"primaryKey;size:36"`
	PhotoID   string         `gorm:"size:36;not null;index:idx_event_log_photo_time"`
	EventType string         `gorm:"size:20;not null;index"`
	Message   string         `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	Timestamp time.Time      `gorm:"not null;index:idx_event_log_photo_time"`
}
