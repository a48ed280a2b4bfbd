package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pancham-xcelerate/rapid-photo-upload/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests. It mirrors the
// transactional semantics of GormStore: transitions and updates stamp
// photo and event from one clock read, and publish hooks run while the
// store lock is held so per-photo ordering matches.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string]domain.Photo
	events []domain.Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{photos: make(map[string]domain.Photo)}
}

func (s *MemoryStore) CreatePhoto(p domain.Photo, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.photos[p.ID]; ok {
		return fmt.Errorf("photo %s already exists", p.ID)
	}
	s.photos[p.ID] = p
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) GetPhoto(id string) (domain.Photo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.photos[id]
	return p, ok, nil
}

func (s *MemoryStore) GetPhotoByShortID(shortID string) (domain.Photo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.photos {
		if p.ShortID == shortID {
			return p, true, nil
		}
	}
	return domain.Photo{}, false, nil
}

func (s *MemoryStore) ListPhotos(filter PhotoFilter, page Page) ([]domain.Photo, int64, error) {
	page = page.Normalized()
	s.mu.RLock()
	matched := make([]domain.Photo, 0, len(s.photos))
	for _, p := range s.photos {
		if filter.TrashOnly != p.Trashed() {
			continue
		}
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.FavoriteOnly && !p.IsFavorite {
			continue
		}
		matched = append(matched, p)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if filter.Sort == SortUpdatedDesc {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})
	total := int64(len(matched))
	start := page.Number * page.Size
	if start >= len(matched) {
		return []domain.Photo{}, total, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListUpdatedAfter(after time.Time, ids []string) ([]domain.Photo, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	matched := make([]domain.Photo, 0)
	for _, p := range s.photos {
		if !p.UpdatedAt.After(after) {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[p.ID]; !ok {
				continue
			}
		}
		matched = append(matched, p)
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.Before(matched[j].UpdatedAt)
	})
	return matched, nil
}

func (s *MemoryStore) TransitionPhoto(id string, target domain.PhotoStatus, ev domain.Event, publish func(domain.Photo)) (domain.Photo, domain.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.photos[id]
	if !ok {
		return domain.Photo{}, domain.DecisionApply, ErrNotFound
	}
	decision := domain.Decide(p.Status, target)
	if decision != domain.DecisionApply {
		return p, decision, nil
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	p.Status = target
	p.UpdatedAt = now
	if target.Terminal() {
		p.ProcessedAt = &now
	}
	s.photos[id] = p
	ev.PhotoID = id
	ev.Timestamp = now
	s.events = append(s.events, ev)
	if publish != nil {
		publish(p)
	}
	return p, decision, nil
}

func (s *MemoryStore) UpdatePhoto(p domain.Photo, ev *domain.Event) (domain.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.photos[p.ID]
	if !ok {
		return domain.Photo{}, ErrNotFound
	}
	if !current.UpdatedAt.Equal(p.UpdatedAt) {
		return domain.Photo{}, ErrConcurrentUpdate
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	current.Filename = p.Filename
	current.IsFavorite = p.IsFavorite
	current.DeletedAt = p.DeletedAt
	current.ThumbnailPath = p.ThumbnailPath
	current.Metadata = p.Metadata
	current.UpdatedAt = now
	s.photos[p.ID] = current
	if ev != nil {
		event := *ev
		event.PhotoID = p.ID
		event.Timestamp = now
		s.events = append(s.events, event)
	}
	return current, nil
}

func (s *MemoryStore) DeletePhoto(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.photos[id]; !ok {
		return false, nil
	}
	delete(s.photos, id)
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.PhotoID != id {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	return true, nil
}

func (s *MemoryStore) AppendEvent(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC().Truncate(time.Microsecond)
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) ListEventsByPhoto(photoID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]domain.Event, 0)
	for _, ev := range s.events {
		if ev.PhotoID == photoID {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events, nil
}

func (s *MemoryStore) ListEvents(filter EventFilter, page Page) ([]domain.Event, int64, error) {
	page = page.Normalized()
	s.mu.RLock()
	matched := make([]domain.Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter.PhotoID != "" && ev.PhotoID != filter.PhotoID {
			continue
		}
		if filter.Type != nil && ev.Type != *filter.Type {
			continue
		}
		matched = append(matched, ev)
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	total := int64(len(matched))
	start := page.Number * page.Size
	if start >= len(matched) {
		return []domain.Event{}, total, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}
