package eventstore

import (
	"sync"

	"github.com/google/uuid"
)

// LocalStats is a process-local running estimate of store statistics,
// updated on every successful append. It diverges across replicas and
// restarts; Store.Stats is the authoritative source.
type LocalStats struct {
	mu    sync.Mutex
	stats Stats
	known map[uuid.UUID]struct{}
}

func NewLocalStats() *LocalStats {
	return &LocalStats{
		stats: Stats{
			EventsByType:   make(map[string]int64),
			EventsByTenant: make(map[uuid.UUID]int64),
		},
		known: make(map[uuid.UUID]struct{}),
	}
}

func (s *LocalStats) RecordAppend(events []EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.stats.TotalEvents++
		s.stats.EventsByType[e.EventType]++
		if e.TenantID != uuid.Nil {
			s.stats.EventsByTenant[e.TenantID]++
		}
		if s.stats.OldestEvent.IsZero() || e.OccurredAt.Before(s.stats.OldestEvent) {
			s.stats.OldestEvent = e.OccurredAt
		}
		if e.OccurredAt.After(s.stats.NewestEvent) {
			s.stats.NewestEvent = e.OccurredAt
		}
		if _, ok := s.known[e.AggregateID]; !ok {
			s.known[e.AggregateID] = struct{}{}
			s.stats.TotalAggregates++
		}
	}
}

// Snapshot returns a copy of the current estimate.
func (s *LocalStats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.EventsByType = make(map[string]int64, len(s.stats.EventsByType))
	for k, v := range s.stats.EventsByType {
		out.EventsByType[k] = v
	}
	out.EventsByTenant = make(map[uuid.UUID]int64, len(s.stats.EventsByTenant))
	for k, v := range s.stats.EventsByTenant {
		out.EventsByTenant[k] = v
	}
	return out
}
