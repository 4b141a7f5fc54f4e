package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Expired entries are swept
// periodically by a background goroutine stopped by Close.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]Record   // jti -> record
	studyJTIs map[string][]string // studyID -> []jti
	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		entries:   make(map[string]Record),
		studyJTIs: make(map[string][]string),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.ID]; !exists {
		s.studyJTIs[rec.StudyID] = append(s.studyJTIs[rec.StudyID], rec.ID)
	}
	s.entries[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.entries[id]
	if !ok || rec.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	s.removeLocked(id)
	return nil
}

func (s *MemoryStore) RevokeStudy(_ context.Context, studyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, jti := range append([]string(nil), s.studyJTIs[studyID]...) {
		if rec, ok := s.entries[jti]; ok {
			if !rec.Expired(now) {
				count++
			}
			s.removeLocked(jti)
		}
	}
	delete(s.studyJTIs, studyID)
	return count, nil
}

// Len returns the number of entries, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for jti, rec := range s.entries {
		if rec.Expired(now) {
			s.removeLocked(jti)
		}
	}
}

// removeLocked drops jti from both indexes. Caller holds s.mu.
func (s *MemoryStore) removeLocked(jti string) {
	rec, ok := s.entries[jti]
	if !ok {
		return
	}
	delete(s.entries, jti)

	jtis := s.studyJTIs[rec.StudyID]
	for i, id := range jtis {
		if id == jti {
			s.studyJTIs[rec.StudyID] = append(jtis[:i], jtis[i+1:]...)
			break
		}
	}
	if len(s.studyJTIs[rec.StudyID]) == 0 {
		delete(s.studyJTIs, rec.StudyID)
	}
}
