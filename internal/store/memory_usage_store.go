package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dunamismax/layerflow/internal/domain"
)

var ErrMissingRequestID = errors.New("usage entry has no request id")

// defaultMemoryCapacity bounds how many entries an in-memory store keeps.
const defaultMemoryCapacity = 100_000

// MemoryUsageStore keeps the most recent entries in a ring. Oldest entries
// are overwritten once capacity is reached.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	entries []domain.UsageLog
	next    int
	full    bool
}

func NewMemoryUsageStore(capacity int) *MemoryUsageStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryUsageStore{
		entries: make([]domain.UsageLog, capacity),
	}
}

func (s *MemoryUsageStore) Record(_ context.Context, entry domain.UsageLog) error {
	if entry.RequestID == "" {
		return ErrMissingRequestID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *MemoryUsageStore) Totals(_ context.Context, subject string, since time.Time) (UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.entries)
	}

	totals := UsageTotals{Subject: subject}
	for _, entry := range s.entries[:n] {
		if subject != "" && entry.Subject != subject {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		totals.add(entry)
	}
	return totals, nil
}

func (s *MemoryUsageStore) Close() error {
	return nil
}
