// Package store provides an in-memory chat journal used by default and in tests.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/NicolasHaas/pixelsync/pkg/datastore"
	"github.com/NicolasHaas/pixelsync/pkg/model"
)

const defaultPageSize = 100

// Compile-time check: *MemoryStore implements datastore.DataStore.
var _ datastore.DataStore = (*MemoryStore)(nil)

// MemoryStore keeps chat lines in process memory.
// It mirrors SQLite behavior for validation and ordering.
type MemoryStore struct {
	mu sync.RWMutex

	now    func() time.Time
	nextID int64
	lines  []model.ChatLine // ascending by ID
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{now: now, nextID: 1}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) AppendChat(line *model.ChatLine) error {
	if err := line.Validate(); err != nil {
		return fmt.Errorf("store: chat line failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if line.SentAt.IsZero() {
		line.SentAt = s.now()
	}
	line.SentAt = line.SentAt.UTC().Truncate(time.Second)
	line.ID = s.nextID
	s.nextID++
	s.lines = append(s.lines, *line)
	return nil
}

func (s *MemoryStore) ListChat(filters model.ChatFilters) ([]model.ChatLine, error) {
	limit := int64(defaultPageSize)
	if filters.PageSize != nil {
		limit = *filters.PageSize
	}
	var offset int64
	if filters.Offset != nil {
		offset = *filters.Offset
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ChatLine
	var skipped int64
	for i := len(s.lines) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		l := s.lines[i]
		if filters.LimitToRoomID != nil && l.RoomID != *filters.LimitToRoomID {
			continue
		}
		if filters.LimitToSenderID != nil && l.SenderID != *filters.LimitToSenderID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *MemoryStore) CountChat() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.lines)), nil
}

func (s *MemoryStore) PruneChat(keep int64) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.lines)) - keep
	if n <= 0 {
		return 0, nil
	}
	s.lines = append([]model.ChatLine(nil), s.lines[n:]...)
	return n, nil
}
