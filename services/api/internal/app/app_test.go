package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pancham-xcelerate/rapid-photo-upload/internal/shortid"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/notify"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/queue"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/storage"
	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/store"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job queue.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.jobs = append(f.jobs, job)
	return fmt.Sprintf("%d-0", len(f.jobs)), nil
}

type testDeps struct {
	store   *store.MemoryStore
	objects *storage.MemoryStore
	queue   *fakeQueue
	hub     *notify.Hub
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *testDeps) {
	t.Helper()
	deps := &testDeps{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore(),
		queue:   &fakeQueue{},
		hub:     notify.NewHub(),
	}
	cfg := Config{
		Store:    deps.store,
		Objects:  deps.objects,
		Producer: deps.queue,
		Hub:      deps.hub,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, deps
}

func jpegFile(name string, size int) UploadFile {
	return UploadFile{Name: name, MimeType: "image/jpeg", Data: bytes.Repeat([]byte{0xff}, size)}
}

func TestUploadPhotosSingleFile(t *testing.T) {
	a, deps := newTestApp(t, nil)

	result, err := a.UploadPhotos(context.Background(), []UploadFile{jpegFile("My Cat.jpg", 128)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Succeeded != 1 || result.Total != 1 || len(result.Failed) != 0 {
		t.Fatalf("result = %+v", result)
	}

	photo := result.Photos[0]
	if photo.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want QUEUED", photo.Status)
	}
	if photo.Filename != "My_Cat.jpg" {
		t.Fatalf("sanitized filename = %q", photo.Filename)
	}
	if photo.OriginalFilename != "My Cat.jpg" {
		t.Fatalf("original filename = %q", photo.OriginalFilename)
	}
	if !shortid.Valid(photo.ShortID) {
		t.Fatalf("short ID = %q", photo.ShortID)
	}
	if photo.Size != 128 || photo.MimeType != "image/jpeg" {
		t.Fatalf("size/mime = %d/%s", photo.Size, photo.MimeType)
	}
	if photo.StoragePath != photo.ID+".jpg" {
		t.Fatalf("storage path = %q", photo.StoragePath)
	}

	if n := deps.objects.Len("photos"); n != 1 {
		t.Fatalf("objects in bucket = %d, want 1", n)
	}
	if len(deps.queue.jobs) != 1 {
		t.Fatalf("enqueued jobs = %d, want 1", len(deps.queue.jobs))
	}
	job := deps.queue.jobs[0]
	if job.PhotoID != photo.ID || job.StoragePath != photo.StoragePath || job.Filename != photo.Filename {
		t.Fatalf("job = %+v", job)
	}

	events, err := deps.store.ListEventsByPhoto(photo.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want UPLOADED and QUEUED", len(events))
	}
	if events[0].Type != domain.EventUploaded || events[0].Message != "Photo uploaded successfully: My Cat.jpg" {
		t.Fatalf("uploaded event = %+v", events[0])
	}
	if events[1].Type != domain.EventQueued || events[1].Message != "Photo queued for processing (messageId: 1-0)" {
		t.Fatalf("queued event = %+v", events[1])
	}
	var meta map[string]string
	if err := json.Unmarshal(events[1].Metadata, &meta); err != nil || meta["messageId"] != "1-0" {
		t.Fatalf("queued event metadata = %s (%v)", events[1].Metadata, err)
	}
}

func TestUploadPhotosPublishesUploadedAndQueued(t *testing.T) {
	a, deps := newTestApp(t, nil)
	sub := deps.hub.Subscribe(notify.TopicAll)

	if _, err := a.UploadPhotos(context.Background(), []UploadFile{jpegFile("cat.jpg", 16)}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	var statuses []string
drain:
	for {
		select {
		case u := <-sub.C():
			statuses = append(statuses, u.Status)
		default:
			break drain
		}
	}
	if len(statuses) != 2 || statuses[0] != "UPLOADED" || statuses[1] != "QUEUED" {
		t.Fatalf("published statuses = %v", statuses)
	}
}

func TestUploadPhotosMixedBatchContinues(t *testing.T) {
	a, deps := newTestApp(t, func(cfg *Config) { cfg.MaxFileBytes = 64 })

	files := []UploadFile{
		jpegFile("ok.jpg", 32),
		jpegFile("big.jpg", 65),
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("hi")},
		{Name: "empty.png", MimeType: "image/png"},
	}
	result, err := a.UploadPhotos(context.Background(), files)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Succeeded != 1 || len(result.Failed) != 3 || result.Total != 4 {
		t.Fatalf("result = %+v", result)
	}
	reasons := map[string]string{}
	for _, f := range result.Failed {
		reasons[f.Filename] = f.Reason
	}
	if !strings.Contains(reasons["big.jpg"], ErrFileTooLarge.Error()) {
		t.Fatalf("big.jpg reason = %q", reasons["big.jpg"])
	}
	if !strings.Contains(reasons["notes.txt"], ErrUnsupportedFormat.Error()) {
		t.Fatalf("notes.txt reason = %q", reasons["notes.txt"])
	}
	if !strings.Contains(reasons["empty.png"], ErrEmptyFile.Error()) {
		t.Fatalf("empty.png reason = %q", reasons["empty.png"])
	}
	if n := deps.objects.Len("photos"); n != 1 {
		t.Fatalf("objects = %d, want only the valid file", n)
	}
}

func TestUploadPhotosBatchGates(t *testing.T) {
	a, _ := newTestApp(t, func(cfg *Config) { cfg.MaxBatchFiles = 2 })

	if _, err := a.UploadPhotos(context.Background(), nil); !errors.Is(err, ErrNoFiles) {
		t.Fatalf("empty batch err = %v", err)
	}
	files := []UploadFile{jpegFile("a.jpg", 1), jpegFile("b.jpg", 1), jpegFile("c.jpg", 1)}
	if _, err := a.UploadPhotos(context.Background(), files); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("oversized batch err = %v", err)
	}
}

func TestUploadPhotosEnqueueFailureMarksPhotoFailed(t *testing.T) {
	a, deps := newTestApp(t, nil)
	deps.queue.err = errors.New("redis down")

	result, err := a.UploadPhotos(context.Background(), []UploadFile{jpegFile("cat.jpg", 16)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Succeeded != 0 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v", result)
	}

	photos, _, err := deps.store.ListPhotos(store.PhotoFilter{}, store.Page{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(photos) != 1 || photos[0].Status != domain.StatusFailed {
		t.Fatalf("stored photos = %+v, want one FAILED", photos)
	}
	events, _ := deps.store.ListEventsByPhoto(photos[0].ID)
	last := events[len(events)-1]
	if last.Type != domain.EventFailed {
		t.Fatalf("last event type = %s, want FAILED", last.Type)
	}
	if last.Message != "Failed to queue photo: redis down" {
		t.Fatalf("failed event message = %q", last.Message)
	}
}

type failingCreateStore struct {
	store.Store
	createErr error
}

func (f *failingCreateStore) CreatePhoto(p domain.Photo, ev domain.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.Store.CreatePhoto(p, ev)
}

func TestUploadPhotosRollsBackObjectOnStoreFailure(t *testing.T) {
	var failing *failingCreateStore
	a, deps := newTestApp(t, func(cfg *Config) {
		failing = &failingCreateStore{Store: cfg.Store, createErr: errors.New("db down")}
		cfg.Store = failing
	})

	result, err := a.UploadPhotos(context.Background(), []UploadFile{jpegFile("cat.jpg", 16)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if result.Succeeded != 0 || len(result.Failed) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if n := deps.objects.Len("photos"); n != 0 {
		t.Fatalf("objects = %d, want rollback to remove the orphan", n)
	}
}
