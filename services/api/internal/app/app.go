package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/fileutil"
	"github.com/pancham-xcelerate/rapid-photo-upload/internal/shortid"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/lifecycle"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/queue"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/storage"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

var allowedMimeTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

// Enqueuer publishes one processing job and returns the queue message ID.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
}

// Config wires the application dependencies.
type Config struct {
	Store             store.Store
	Objects           storage.ObjectStore
	Producer          Enqueuer
	Hub               *notify.Hub
	Logger            *slog.Logger
	PhotoBucket       string
	ThumbnailBucket   string
	MaxFileBytes      int64
	MaxBatchFiles     int
	UploadConcurrency int
}

// App is the core application service behind the HTTP layer.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	producer      Enqueuer
	lifecycle     *lifecycle.Coordinator
	hub           *notify.Hub
	logger        *slog.Logger
	photoBucket   string
	thumbBucket   string
	maxFileBytes  int64
	maxBatchFiles int
	uploadSlots   int
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Producer == nil {
		return nil, errors.New("queue producer required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("notification hub required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	photoBucket := cfg.PhotoBucket
	if photoBucket == "" {
		photoBucket = "photos"
	}
	thumbBucket := cfg.ThumbnailBucket
	if thumbBucket == "" {
		thumbBucket = "thumbnails"
	}
	maxFileBytes := cfg.MaxFileBytes
	if maxFileBytes <= 0 {
		maxFileBytes = 10 << 20
	}
	maxBatchFiles := cfg.MaxBatchFiles
	if maxBatchFiles <= 0 {
		maxBatchFiles = 1000
	}
	uploadSlots := cfg.UploadConcurrency
	if uploadSlots <= 0 {
		uploadSlots = 10
	}

	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		producer:      cfg.Producer,
		lifecycle:     lifecycle.NewCoordinator(cfg.Store, cfg.Hub, logger),
		hub:           cfg.Hub,
		logger:        logger,
		photoBucket:   photoBucket,
		thumbBucket:   thumbBucket,
		maxFileBytes:  maxFileBytes,
		maxBatchFiles: maxBatchFiles,
		uploadSlots:   uploadSlots,
	}, nil
}

// UploadFile is one file extracted from a multipart upload request.
type UploadFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// UploadFailure reports one rejected file of a batch.
type UploadFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// BatchResult is the outcome of one upload batch.
type BatchResult struct {
	Photos    []domain.Photo  `json:"photos"`
	Failed    []UploadFailure `json:"failed"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
}

// UploadPhotos ingests a batch. Files fail individually; one bad file
// never sinks its batch. Batch shape errors (empty, oversized) reject
// the whole request instead.
func (a *App) UploadPhotos(ctx context.Context, files []UploadFile) (BatchResult, error) {
	if len(files) == 0 {
		return BatchResult{}, ErrNoFiles
	}
	if len(files) > a.maxBatchFiles {
		return BatchResult{}, fmt.Errorf("%w: got %d, limit %d", ErrBatchTooLarge, len(files), a.maxBatchFiles)
	}

	type slot struct {
		photo domain.Photo
		fail  *UploadFailure
	}
	slots := make([]slot, len(files))
	var pool errgroup.Group
	pool.SetLimit(a.uploadSlots)
	for i, file := range files {
		pool.Go(func() error {
			photo, err := a.ingestOne(ctx, file)
			if err != nil {
				a.logger.Warn("file rejected", "filename", file.Name, "error", err)
				slots[i].fail = &UploadFailure{Filename: file.Name, Reason: err.Error()}
				return nil
			}
			slots[i].photo = photo
			return nil
		})
	}
	_ = pool.Wait()

	result := BatchResult{
		Photos: make([]domain.Photo, 0, len(files)),
		Failed: make([]UploadFailure, 0),
		Total:  len(files),
	}
	for _, s := range slots {
		if s.fail != nil {
			result.Failed = append(result.Failed, *s.fail)
			continue
		}
		result.Photos = append(result.Photos, s.photo)
	}
	result.Succeeded = len(result.Photos)
	return result, nil
}

// ingestOne runs the full pipeline for a single file: validate, store
// the object, persist the row, then enqueue. An enqueue failure marks
// the photo FAILED so it never sits in UPLOADED with no job behind it.
func (a *App) ingestOne(ctx context.Context, file UploadFile) (domain.Photo, error) {
	if err := a.validateFile(file); err != nil {
		return domain.Photo{}, err
	}

	id := uuid.New()
	sanitized := fileutil.Sanitize(file.Name)
	key := fileutil.StorageKey(id.String(), file.Name)
	contentType := strings.TrimSpace(file.MimeType)

	now := time.Now().UTC().Truncate(time.Microsecond)
	photo := domain.Photo{
		ID:               id.String(),
		ShortID:          shortid.FromUUID(id),
		Filename:         sanitized,
		OriginalFilename: file.Name,
		Status:           domain.StatusUploaded,
		Size:             int64(len(file.Data)),
		MimeType:         contentType,
		StoragePath:      key,
		UploadedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := a.objects.Put(ctx, a.photoBucket, key, file.Data, contentType); err != nil {
		return domain.Photo{}, fmt.Errorf("store object: %w", err)
	}
	uploadedMsg := "Photo uploaded successfully: " + file.Name
	err := a.store.CreatePhoto(photo, domain.Event{
		ID:        uuid.NewString(),
		PhotoID:   photo.ID,
		Type:      domain.EventUploaded,
		Message:   uploadedMsg,
		Timestamp: now,
	})
	if err != nil {
		_ = a.objects.Delete(ctx, a.photoBucket, key)
		return domain.Photo{}, fmt.Errorf("save photo: %w", err)
	}
	a.publish(photo, uploadedMsg)

	messageID, err := a.producer.Enqueue(ctx, queue.Job{
		PhotoID:     photo.ID,
		Filename:    sanitized,
		StoragePath: key,
	})
	if err != nil {
		a.logger.Error("enqueue failed, marking photo failed", "photoId", photo.ID, "error", err)
		if _, ferr := a.lifecycle.Transition(photo.ID, domain.StatusFailed, "Failed to queue photo: "+err.Error(), nil); ferr != nil {
			a.logger.Error("could not mark photo failed", "photoId", photo.ID, "error", ferr)
		}
		return domain.Photo{}, fmt.Errorf("enqueue photo: %w", err)
	}

	meta, _ := json.Marshal(map[string]string{"messageId": messageID})
	queued, err := a.lifecycle.Transition(photo.ID,
		domain.StatusQueued,
		fmt.Sprintf("Photo queued for processing (messageId: %s)", messageID),
		meta)
	if err != nil {
		return domain.Photo{}, fmt.Errorf("mark queued: %w", err)
	}
	return queued, nil
}

func (a *App) validateFile(file UploadFile) error {
	if len(file.Data) == 0 {
		return ErrEmptyFile
	}
	if int64(len(file.Data)) > a.maxFileBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(file.Data), a.maxFileBytes)
	}
	mimeType := strings.ToLower(strings.TrimSpace(file.MimeType))
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, file.MimeType)
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: extension %s", ErrUnsupportedFormat, ext)
	}
	return nil
}

func (a *App) publish(photo domain.Photo, message string) {
	update := notify.StatusUpdate{
		PhotoID:   photo.ID,
		Status:    string(photo.Status),
		Message:   message,
		Timestamp: domain.FormatTimestamp(photo.UpdatedAt),
	}
	a.hub.Publish(notify.TopicAll, update)
	a.hub.Publish(notify.TopicPhoto(photo.ID), update)
}
