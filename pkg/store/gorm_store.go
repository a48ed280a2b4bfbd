package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
)

const migrateLockID int64 = 84215310

type GormStoreOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

type GormStoreOption func(*GormStoreOptions)

// WithPool sizes the underlying connection pool. The worker sets the open
// cap to its goroutine pool plus headroom so bursts never exhaust it.
func WithPool(maxOpen, maxIdle int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, sizes the pool, and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.MaxOpenConns > 0 || opts.MaxIdleConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&PhotoModel{}, &EventLogModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'event_log_models'
					AND constraint_name = 'event_log_models_photo_id_fkey'
				) THEN
					DELETE FROM event_log_models e
					WHERE NOT EXISTS (SELECT 1 FROM photo_models p WHERE p.id = e.photo_id);
					ALTER TABLE event_log_models
					ADD CONSTRAINT event_log_models_photo_id_fkey
					FOREIGN KEY (photo_id) REFERENCES photo_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure event log foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreatePhoto inserts the photo row and its first event in one transaction.
func (s *GormStore) CreatePhoto(p domain.Photo, ev domain.Event) error {
	model := photoToModel(p)
	eventModel := eventToModel(ev)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(&eventModel).Error
	})
}

// GetPhoto returns a photo by ID, including soft-deleted ones.
func (s *GormStore) GetPhoto(id string) (domain.Photo, bool, error) {
	var model PhotoModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Photo{}, false, nil
		}
		return domain.Photo{}, false, err
	}
	return photoFromModel(model), true, nil
}

// GetPhotoByShortID resolves a photo through its base62 short ID.
func (s *GormStore) GetPhotoByShortID(shortID string) (domain.Photo, bool, error) {
	var model PhotoModel
	if err := s.db.First(&model, "short_id = ?", shortID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Photo{}, false, nil
		}
		return domain.Photo{}, false, err
	}
	return photoFromModel(model), true, nil
}

// ListPhotos returns one page plus the total count for the filter.
func (s *GormStore) ListPhotos(filter PhotoFilter, page Page) ([]domain.Photo, int64, error) {
	page = page.Normalized()
	build := func() *gorm.DB {
		query := s.db.Model(&PhotoModel{})
		if filter.TrashOnly {
			query = query.Where("deleted_at IS NOT NULL")
		} else {
			query = query.Where("deleted_at IS NULL")
		}
		if filter.Status != nil {
			query = query.Where("status = ?", string(*filter.Status))
		}
		if filter.FavoriteOnly {
			query = query.Where("is_favorite = ?", true)
		}
		return query
	}
	var total int64
	if err := build().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	order := "uploaded_at DESC"
	if filter.Sort == SortUpdatedDesc {
		order = "updated_at DESC"
	}
	var models []PhotoModel
	if err := build().Order(order).
		Offset(page.Number * page.Size).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	photos := make([]domain.Photo, 0, len(models))
	for _, m := range models {
		photos = append(photos, photoFromModel(m))
	}
	return photos, total, nil
}

// ListUpdatedAfter returns photos changed strictly after the cutoff in
// ascending update order, trash included. A non-empty ids slice restricts
// the result to those photos.
func (s *GormStore) ListUpdatedAfter(after time.Time, ids []string) ([]domain.Photo, error) {
	query := s.db.Where("updated_at > ?", after.UTC())
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	var models []PhotoModel
	if err := query.Order("updated_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	photos := make([]domain.Photo, 0, len(models))
	for _, m := range models {
		photos = append(photos, photoFromModel(m))
	}
	return photos, nil
}

// TransitionPhoto applies a status change under a row lock. See Store.
func (s *GormStore) TransitionPhoto(id string, target domain.PhotoStatus, ev domain.Event, publish func(domain.Photo)) (domain.Photo, domain.Decision, error) {
	var (
		photo    domain.Photo
		decision domain.Decision
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model PhotoModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		decision = domain.Decide(domain.PhotoStatus(model.Status), target)
		photo = photoFromModel(model)
		if decision != domain.DecisionApply {
			return nil
		}

		now := time.Now().UTC().Truncate(time.Microsecond)
		updates := map[string]any{
			"status":     string(target),
			"updated_at": now,
		}
		if target.Terminal() {
			updates["processed_at"] = now
		}
		if err := tx.Model(&PhotoModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		ev.PhotoID = id
		ev.Timestamp = now
		eventModel := eventToModel(ev)
		if err := tx.Create(&eventModel).Error; err != nil {
			return err
		}

		photo.Status = target
		photo.UpdatedAt = now
		if target.Terminal() {
			photo.ProcessedAt = &now
		}
		if publish != nil {
			publish(photo)
		}
		return nil
	})
	if err != nil {
		return domain.Photo{}, decision, err
	}
	return photo, decision, nil
}

// UpdatePhoto writes user-mutable fields guarded by compare-and-set on
// UpdatedAt. See Store.
func (s *GormStore) UpdatePhoto(p domain.Photo, ev *domain.Event) (domain.Photo, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PhotoModel{}).
			Where("id = ? AND updated_at = ?", p.ID, p.UpdatedAt).
			Updates(map[string]any{
				"filename":       p.Filename,
				"is_favorite":    p.IsFavorite,
				"deleted_at":     p.DeletedAt,
				"thumbnail_path": p.ThumbnailPath,
				"metadata":       datatypes.JSON(p.Metadata),
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&PhotoModel{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConcurrentUpdate
		}
		if ev != nil {
			event := *ev
			event.PhotoID = p.ID
			event.Timestamp = now
			eventModel := eventToModel(event)
			if err := tx.Create(&eventModel).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Photo{}, err
	}
	p.UpdatedAt = now
	return p, nil
}

// DeletePhoto removes the row permanently. Event rows go with it through
// the foreign key cascade.
func (s *GormStore) DeletePhoto(id string) (bool, error) {
	res := s.db.Delete(&PhotoModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AppendEvent records a standalone event outside any status transition.
func (s *GormStore) AppendEvent(ev domain.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC().Truncate(time.Microsecond)
	}
	model := eventToModel(ev)
	return s.db.Create(&model).Error
}

// ListEventsByPhoto returns a photo's full history, oldest first.
func (s *GormStore) ListEventsByPhoto(photoID string) ([]domain.Event, error) {
	var models []EventLogModel
	if err := s.db.Where("photo_id = ?", photoID).
		Order("timestamp ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(models))
	for _, m := range models {
		events = append(events, eventFromModel(m))
	}
	return events, nil
}

// ListEvents returns one page of events, newest first, plus the total count.
func (s *GormStore) ListEvents(filter EventFilter, page Page) ([]domain.Event, int64, error) {
	page = page.Normalized()
	build := func() *gorm.DB {
		query := s.db.Model(&EventLogModel{})
		if filter.PhotoID != "" {
			query = query.Where("photo_id = ?", filter.PhotoID)
		}
		if filter.Type != nil {
			query = query.Where("event_type = ?", string(*filter.Type))
		}
		return query
	}
	var total int64
	if err := build().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []EventLogModel
	if err := build().Order("timestamp DESC").
		Offset(page.Number * page.Size).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	events := make([]domain.Event, 0, len(models))
	for _, m := range models {
		events = append(events, eventFromModel(m))
	}
	return events, total, nil
}

func photoToModel(p domain.Photo) PhotoModel {
	var shortID *string
	if p.ShortID != "" {
		value := p.ShortID
		shortID = &value
	}
	return PhotoModel{
		ID:               p.ID,
		ShortID:          shortID,
		Filename:         p.Filename,
		OriginalFilename: p.OriginalFilename,
		Status:           string(p.Status),
		Size:             p.Size,
		MimeType:         p.MimeType,
		StoragePath:      p.StoragePath,
		ThumbnailPath:    p.ThumbnailPath,
		Metadata:         datatypes.JSON(p.Metadata),
		IsFavorite:       p.IsFavorite,
		DeletedAt:        p.DeletedAt,
		UploadedAt:       p.UploadedAt,
		ProcessedAt:      p.ProcessedAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func photoFromModel(m PhotoModel) domain.Photo {
	shortID := ""
	if m.ShortID != nil {
		shortID = *m.ShortID
	}
	return domain.Photo{
		ID:               m.ID,
		ShortID:          shortID,
		Filename:         m.Filename,
		OriginalFilename: m.OriginalFilename,
		Status:           domain.PhotoStatus(m.Status),
		Size:             m.Size,
		MimeType:         m.MimeType,
		StoragePath:      m.StoragePath,
		ThumbnailPath:    m.ThumbnailPath,
		Metadata:         []byte(m.Metadata),
		IsFavorite:       m.IsFavorite,
		DeletedAt:        m.DeletedAt,
		UploadedAt:       m.UploadedAt,
		ProcessedAt:      m.ProcessedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func eventToModel(ev domain.Event) EventLogModel {
	return EventLogModel{
		ID:        ev.ID,
		PhotoID:   ev.PhotoID,
		EventType: string(ev.Type),
		Message:   ev.Message,
		Metadata:  datatypes.JSON(ev.Metadata),
		Timestamp: ev.Timestamp,
	}
}

func eventFromModel(m EventLogModel) domain.Event {
	return domain.Event{
		ID:        m.ID,
		PhotoID:   m.PhotoID,
		Type:      domain.EventType(m.EventType),
		Message:   m.Message,
		Metadata:  []byte(m.Metadata),
		Timestamp: m.Timestamp,
	}
}
