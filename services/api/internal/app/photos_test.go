package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/lifecycle"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

func uploadOne(t *testing.T, a *App, name string) domain.Photo {
	t.Helper()
	result, err := a.UploadPhotos(context.Background(), []UploadFile{jpegFile(name, 64)})
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("upload %s failed: %+v", name, result)
	}
	return result.Photos[0]
}

func TestGetPhotoResolvesShortID(t *testing.T) {
	a, _ := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	byID, err := a.GetPhoto(photo.ID)
	if err != nil || byID.ID != photo.ID {
		t.Fatalf("by UUID: %+v, %v", byID, err)
	}
	byShort, err := a.GetPhoto(photo.ShortID)
	if err != nil || byShort.ID != photo.ID {
		t.Fatalf("by short ID: %+v, %v", byShort, err)
	}
	if _, err := a.GetPhoto("nope"); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("unknown id err = %v", err)
	}
}

func TestRenameSanitizesAndRecordsOldName(t *testing.T) {
	a, deps := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	renamed, err := a.Rename(photo.ID, "my photo (1).jpg")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Filename != "my_photo__1_.jpg" {
		t.Fatalf("filename = %q", renamed.Filename)
	}

	events, _ := deps.store.ListEventsByPhoto(photo.ID)
	last := events[len(events)-1]
	if last.Type != domain.EventRenamed {
		t.Fatalf("last event = %s, want RENAMED", last.Type)
	}
	var meta map[string]string
	if err := json.Unmarshal(last.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["oldFilename"] != "cat.jpg" || meta["newFilename"] != "my_photo__1_.jpg" {
		t.Fatalf("metadata = %v", meta)
	}

	if _, err := a.Rename(photo.ID, "  "); !errors.Is(err, ErrFilenameRequired) {
		t.Fatalf("blank rename err = %v", err)
	}
}

func TestTrashRestoreCycle(t *testing.T) {
	a, deps := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	trashed, err := a.Trash(photo.ID)
	if err != nil {
		t.Fatalf("trash: %v", err)
	}
	if !trashed.Trashed() {
		t.Fatalf("photo not marked trashed: %+v", trashed)
	}

	// Trashing again is a no-op, no second DELETED event.
	if _, err := a.Trash(photo.ID); err != nil {
		t.Fatalf("second trash: %v", err)
	}
	events, _ := deps.store.ListEventsByPhoto(photo.ID)
	deleted := 0
	for _, ev := range events {
		if ev.Type == domain.EventDeleted {
			deleted++
		}
	}
	if deleted != 1 {
		t.Fatalf("DELETED events = %d, want 1", deleted)
	}

	restored, err := a.Restore(photo.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Trashed() {
		t.Fatalf("photo still trashed after restore")
	}
	if _, err := a.Restore(photo.ID); !errors.Is(err, ErrNotInTrash) {
		t.Fatalf("second restore err = %v", err)
	}
}

func TestPermanentDeleteRemovesObjectsRowAndEvents(t *testing.T) {
	a, deps := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	if err := a.PermanentDelete(context.Background(), photo.ID); err != nil {
		t.Fatalf("permanent delete: %v", err)
	}
	if _, err := a.GetPhoto(photo.ID); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("photo still resolvable: %v", err)
	}
	if n := deps.objects.Len("photos"); n != 0 {
		t.Fatalf("objects = %d after delete", n)
	}
	if events, _ := deps.store.ListEventsByPhoto(photo.ID); len(events) != 0 {
		t.Fatalf("events survived: %+v", events)
	}
	if err := a.PermanentDelete(context.Background(), photo.ID); !errors.Is(err, ErrPhotoNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestGetThumbnailFallsBackToOriginal(t *testing.T) {
	a, deps := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	dl, err := a.GetThumbnail(context.Background(), photo.ID)
	if err != nil {
		t.Fatalf("thumbnail fallback: %v", err)
	}
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	if int64(len(data)) != photo.Size {
		t.Fatalf("fallback bytes = %d, want original size %d", len(data), photo.Size)
	}

	thumbKey := photo.ID + "_thumb.jpg"
	if err := deps.objects.Put(context.Background(), "thumbnails", thumbKey, []byte("tiny"), "image/jpeg"); err != nil {
		t.Fatalf("put thumbnail: %v", err)
	}
	photo.ThumbnailPath = thumbKey
	if _, err := deps.store.UpdatePhoto(photo, nil); err != nil {
		t.Fatalf("set thumbnail path: %v", err)
	}

	dl, err = a.GetThumbnail(context.Background(), photo.ID)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	data, _ = io.ReadAll(dl.Body)
	dl.Body.Close()
	if string(data) != "tiny" {
		t.Fatalf("thumbnail bytes = %q", data)
	}
}

func TestSetFavoriteIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	fav, err := a.SetFavorite(photo.ID, true)
	if err != nil || !fav.IsFavorite {
		t.Fatalf("favorite: %+v, %v", fav, err)
	}
	again, err := a.SetFavorite(photo.ID, true)
	if err != nil || !again.IsFavorite {
		t.Fatalf("favorite again: %+v, %v", again, err)
	}
	if !again.UpdatedAt.Equal(fav.UpdatedAt) {
		t.Fatalf("no-op favorite bumped updated_at")
	}
}

func TestBulkTrashReportsPerID(t *testing.T) {
	a, _ := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	result := a.BulkTrash([]string{photo.ID, "00000000-0000-0000-0000-000000000000"})
	if len(result.Succeeded) != 1 || result.Succeeded[0] != photo.ID {
		t.Fatalf("succeeded = %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].PhotoID != "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("failed = %+v", result.Failed)
	}
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	a, _ := newTestApp(t, nil)
	photo := uploadOne(t, a, "cat.jpg")

	if _, err := a.UpdateStatus(photo.ID, "SHINY", ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	// Uploaded photos land in QUEUED; QUEUED -> COMPLETED skips PROCESSING.
	if _, err := a.UpdateStatus(photo.ID, "COMPLETED", ""); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	updated, err := a.UpdateStatus(photo.ID, "processing", "Photo processing started")
	if err != nil {
		t.Fatalf("valid transition: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("status = %s", updated.Status)
	}
}

func TestListPhotosPassesFilters(t *testing.T) {
	a, _ := newTestApp(t, nil)
	p1 := uploadOne(t, a, "a.jpg")
	uploadOne(t, a, "b.jpg")
	if _, err := a.Trash(p1.ID); err != nil {
		t.Fatalf("trash: %v", err)
	}

	live, total, err := a.ListPhotos(store.PhotoFilter{}, store.Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(live) != 1 {
		t.Fatalf("live = %d (total %d), want 1", len(live), total)
	}
	trash, _, err := a.ListPhotos(store.PhotoFilter{TrashOnly: true}, store.Page{})
	if err != nil {
		t.Fatalf("trash list: %v", err)
	}
	if len(trash) != 1 || trash[0].ID != p1.ID {
		t.Fatalf("trash = %+v", trash)
	}
}
