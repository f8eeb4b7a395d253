package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and embedded setups.
// It enforces the same validation, concurrency and ordering semantics as
// the Postgres store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]EventRecord
	ledger map[uuid.UUID]int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[uuid.UUID][]EventRecord),
		ledger: make(map[uuid.UUID]int64),
	}
}

func (s *MemoryStore) SaveEvents(_ context.Context, aggregateID uuid.UUID, events []EventRecord, expectedVersion int64) error {
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual := s.ledger[aggregateID]
	if actual != expectedVersion {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}

	now := time.Now().UTC()
	for i, e := range events {
		e.Version = expectedVersion + int64(i) + 1
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		s.events[aggregateID] = append(s.events[aggregateID], e)
	}
	s.ledger[aggregateID] = expectedVersion + int64(len(events))
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, aggregateID uuid.UUID) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EventRecord, len(s.events[aggregateID]))
	copy(out, s.events[aggregateID])
	return out, nil
}

func (s *MemoryStore) GetEventsFromVersion(_ context.Context, aggregateID uuid.UUID, fromVersion int64) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EventRecord
	for _, e := range s.events[aggregateID] {
		if e.Version >= fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetEventsByType(_ context.Context, eventType string, from, to time.Time) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EventRecord
	for _, stream := range s.events {
		for _, e := range stream {
			if e.EventType == eventType && withinRange(e.OccurredAt, from, to) {
				out = append(out, e)
			}
		}
	}
	sortByOccurrence(out)
	return out, nil
}

func (s *MemoryStore) GetEventsByTenant(_ context.Context, tenantID uuid.UUID, from, to time.Time) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EventRecord
	for _, stream := range s.events {
		for _, e := range stream {
			if e.TenantID == tenantID && withinRange(e.OccurredAt, from, to) {
				out = append(out, e)
			}
		}
	}
	sortByOccurrence(out)
	return out, nil
}

func (s *MemoryStore) GetAggregateVersion(_ context.Context, aggregateID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger[aggregateID], nil
}

func (s *MemoryStore) Exists(_ context.Context, aggregateID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledger[aggregateID]
	return ok, nil
}

func (s *MemoryStore) DeleteEvents(_ context.Context, aggregateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, aggregateID)
	delete(s.ledger, aggregateID)
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		EventsByType:   make(map[string]int64),
		EventsByTenant: make(map[uuid.UUID]int64),
	}
	for _, stream := range s.events {
		if len(stream) == 0 {
			continue
		}
		stats.TotalAggregates++
		for _, e := range stream {
			stats.TotalEvents++
			stats.EventsByType[e.EventType]++
			if e.TenantID != uuid.Nil {
				stats.EventsByTenant[e.TenantID]++
			}
			if stats.OldestEvent.IsZero() || e.OccurredAt.Before(stats.OldestEvent) {
				stats.OldestEvent = e.OccurredAt
			}
			if e.OccurredAt.After(stats.NewestEvent) {
				stats.NewestEvent = e.OccurredAt
			}
		}
	}
	return stats, nil
}

func withinRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func sortByOccurrence(events []EventRecord) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
