package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/fileutil"
	"github.com/pancham-xcelerate/rapid-photo-upload/internal/shortid"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/lifecycle"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/storage"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

// GetPhoto resolves a photo by canonical UUID or by 6-char short ID.
func (a *App) GetPhoto(id string) (domain.Photo, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err == nil {
		photo, ok, err := a.store.GetPhoto(id)
		if err != nil {
			return domain.Photo{}, fmt.Errorf("load photo: %w", err)
		}
		if ok {
			return photo, nil
		}
		return domain.Photo{}, ErrPhotoNotFound
	}
	if shortid.Valid(id) {
		photo, ok, err := a.store.GetPhotoByShortID(id)
		if err != nil {
			return domain.Photo{}, fmt.Errorf("load photo: %w", err)
		}
		if ok {
			return photo, nil
		}
	}
	return domain.Photo{}, ErrPhotoNotFound
}

func (a *App) ListPhotos(filter store.PhotoFilter, page store.Page) ([]domain.Photo, int64, error) {
	photos, total, err := a.store.ListPhotos(filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list photos: %w", err)
	}
	return photos, total, nil
}

// PollUpdates returns photos updated strictly after the cutoff,
// optionally narrowed to specific IDs. Trashed photos are included so
// clients watching a processing photo see changes even after moving it
// to trash.
func (a *App) PollUpdates(since time.Time, photoIDs []string) ([]domain.Photo, error) {
	photos, err := a.store.ListUpdatedAfter(since, photoIDs)
	if err != nil {
		return nil, fmt.Errorf("poll updates: %w", err)
	}
	return photos, nil
}

// ObjectDownload carries a stored object stream and the metadata needed
// to serve it. The caller owns Body.
type ObjectDownload struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
}

func (a *App) GetImage(ctx context.Context, id string) (ObjectDownload, error) {
	photo, err := a.GetPhoto(id)
	if err != nil {
		return ObjectDownload{}, err
	}
	return a.downloadOriginal(ctx, photo)
}

// GetThumbnail serves the thumbnail when one exists and falls back to
// the original otherwise, so galleries render before processing ends.
func (a *App) GetThumbnail(ctx context.Context, id string) (ObjectDownload, error) {
	photo, err := a.GetPhoto(id)
	if err != nil {
		return ObjectDownload{}, err
	}
	if photo.ThumbnailPath != "" {
		dl, err := a.download(ctx, photo, a.thumbBucket, photo.ThumbnailPath)
		if err == nil {
			return dl, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return ObjectDownload{}, fmt.Errorf("fetch thumbnail: %w: %v", ErrStorageFailure, err)
		}
	}
	return a.downloadOriginal(ctx, photo)
}

func (a *App) downloadOriginal(ctx context.Context, photo domain.Photo) (ObjectDownload, error) {
	if photo.StoragePath == "" {
		return ObjectDownload{}, ErrPhotoNotFound
	}
	dl, err := a.download(ctx, photo, a.photoBucket, photo.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ObjectDownload{}, ErrPhotoNotFound
		}
		return ObjectDownload{}, fmt.Errorf("fetch image: %w: %v", ErrStorageFailure, err)
	}
	return dl, nil
}

func (a *App) download(ctx context.Context, photo domain.Photo, bucket, key string) (ObjectDownload, error) {
	body, info, err := a.objects.Get(ctx, bucket, key)
	if err != nil {
		return ObjectDownload{}, err
	}
	contentType := photo.MimeType
	if contentType == "" {
		contentType = info.ContentType
	}
	return ObjectDownload{
		Body:        body,
		Size:        info.Size,
		ContentType: contentType,
		Filename:    photo.Filename,
	}, nil
}

// SetFavorite flips the favorite flag. Applying the current value again
// is a no-op success.
func (a *App) SetFavorite(id string, favorite bool) (domain.Photo, error) {
	return a.updateWithRetry(id, func(p *domain.Photo) (*domain.Event, bool, error) {
		if p.IsFavorite == favorite {
			return nil, false, nil
		}
		p.IsFavorite = favorite
		return nil, true, nil
	})
}

// Rename sanitizes the requested name and records the old one in the
// RENAMED event metadata.
func (a *App) Rename(id, newName string) (domain.Photo, error) {
	if strings.TrimSpace(newName) == "" {
		return domain.Photo{}, ErrFilenameRequired
	}
	sanitized := fileutil.Sanitize(newName)
	return a.updateWithRetry(id, func(p *domain.Photo) (*domain.Event, bool, error) {
		if p.Filename == sanitized {
			return nil, false, nil
		}
		meta, _ := json.Marshal(map[string]string{
			"oldFilename": p.Filename,
			"newFilename": sanitized,
		})
		p.Filename = sanitized
		return &domain.Event{
			ID:       uuid.NewString(),
			PhotoID:  p.ID,
			Type:     domain.EventRenamed,
			Message:  "Photo renamed",
			Metadata: meta,
		}, true, nil
	})
}

// Trash soft-deletes the photo. Trashing an already trashed photo is a
// no-op success.
func (a *App) Trash(id string) (domain.Photo, error) {
	return a.updateWithRetry(id, func(p *domain.Photo) (*domain.Event, bool, error) {
		if p.Trashed() {
			return nil, false, nil
		}
		now := time.Now().UTC().Truncate(time.Microsecond)
		p.DeletedAt = &now
		return &domain.Event{
			ID:      uuid.NewString(),
			PhotoID: p.ID,
			Type:    domain.EventDeleted,
			Message: "Photo moved to trash",
		}, true, nil
	})
}

// Restore brings a photo back from trash.
func (a *App) Restore(id string) (domain.Photo, error) {
	return a.updateWithRetry(id, func(p *domain.Photo) (*domain.Event, bool, error) {
		if !p.Trashed() {
			return nil, false, ErrNotInTrash
		}
		p.DeletedAt = nil
		return &domain.Event{
			ID:      uuid.NewString(),
			PhotoID: p.ID,
			Type:    domain.EventRestored,
			Message: "Photo restored from trash",
		}, true, nil
	})
}

// PermanentDelete removes the stored objects best-effort and then the
// row; event history cascades away with it.
func (a *App) PermanentDelete(ctx context.Context, id string) error {
	photo, err := a.GetPhoto(id)
	if err != nil {
		return err
	}
	if photo.StoragePath != "" {
		if err := a.objects.Delete(ctx, a.photoBucket, photo.StoragePath); err != nil {
			a.logger.Warn("object delete failed",
				"photoId", photo.ID, "key", photo.StoragePath, "error", err)
		}
	}
	if photo.ThumbnailPath != "" {
		if err := a.objects.Delete(ctx, a.thumbBucket, photo.ThumbnailPath); err != nil {
			a.logger.Warn("thumbnail delete failed",
				"photoId", photo.ID, "key", photo.ThumbnailPath, "error", err)
		}
	}
	found, err := a.store.DeletePhoto(photo.ID)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if !found {
		return ErrPhotoNotFound
	}
	return nil
}

// BulkFailure reports one failed ID of a bulk operation.
type BulkFailure struct {
	PhotoID string `json:"photoId"`
	Reason  string `json:"reason"`
}

// BulkResult is the per-ID outcome of a bulk operation.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

func (a *App) BulkTrash(ids []string) BulkResult {
	return a.bulk(ids, func(id string) error {
		_, err := a.Trash(id)
		return err
	})
}

func (a *App) BulkRestore(ids []string) BulkResult {
	return a.bulk(ids, func(id string) error {
		_, err := a.Restore(id)
		return err
	})
}

func (a *App) BulkPermanentDelete(ctx context.Context, ids []string) BulkResult {
	return a.bulk(ids, func(id string) error {
		return a.PermanentDelete(ctx, id)
	})
}

func (a *App) bulk(ids []string, op func(id string) error) BulkResult {
	result := BulkResult{
		Succeeded: make([]string, 0, len(ids)),
		Failed:    make([]BulkFailure, 0),
	}
	for _, id := range ids {
		if err := op(id); err != nil {
			result.Failed = append(result.Failed, BulkFailure{PhotoID: id, Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// ListPhotoEvents returns the photo's event history, oldest first.
func (a *App) ListPhotoEvents(id string) ([]domain.Event, error) {
	photo, err := a.GetPhoto(id)
	if err != nil {
		return nil, err
	}
	events, err := a.store.ListEventsByPhoto(photo.ID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (a *App) ListEvents(filter store.EventFilter, page store.Page) ([]domain.Event, int64, error) {
	events, total, err := a.store.ListEvents(filter, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	return events, total, nil
}

// UpdateStatus drives a lifecycle transition requested over the API.
// rawStatus is matched case-insensitively against the known statuses.
func (a *App) UpdateStatus(id, rawStatus, message string) (domain.Photo, error) {
	target, ok := domain.ParsePhotoStatus(rawStatus)
	if !ok {
		return domain.Photo{}, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}
	photo, err := a.GetPhoto(id)
	if err != nil {
		return domain.Photo{}, err
	}
	updated, err := a.lifecycle.Transition(photo.ID, target, message, nil)
	if err != nil {
		if errors.Is(err, lifecycle.ErrPhotoNotFound) {
			return domain.Photo{}, ErrPhotoNotFound
		}
		return domain.Photo{}, err
	}
	return updated, nil
}

// updateWithRetry applies a compare-and-set mutation, retrying once on
// a concurrent-update conflict from a fresh read.
func (a *App) updateWithRetry(id string, mutate func(*domain.Photo) (*domain.Event, bool, error)) (domain.Photo, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		photo, err := a.GetPhoto(id)
		if err != nil {
			return domain.Photo{}, err
		}
		event, changed, err := mutate(&photo)
		if err != nil {
			return domain.Photo{}, err
		}
		if !changed {
			return photo, nil
		}
		updated, err := a.store.UpdatePhoto(photo, event)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return domain.Photo{}, ErrPhotoNotFound
		}
		if !errors.Is(err, store.ErrConcurrentUpdate) {
			return domain.Photo{}, fmt.Errorf("update photo: %w", err)
		}
		a.logger.Warn("concurrent update, retrying", "photoId", photo.ID, "attempt", attempt+1)
		lastErr = err
	}
	return domain.Photo{}, fmt.Errorf("update photo %s: %w", id, lastErr)
}
