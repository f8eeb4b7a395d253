package eventstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meridianhq/eventcore/pkg/cache"
)

// CachedStore decorates a Store with a read-through cache of each
// aggregate's full event list and with local running statistics.
//
// The cache is never the system of record: every successful append or
// delete invalidates the aggregate's entry and the next GetEvents
// repopulates it lazily. Cache failures are logged and swallowed.
type CachedStore struct {
	inner Store
	cache cache.Cache
	ttl   time.Duration
	log   *logrus.Entry
	local *LocalStats
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(inner Store, c cache.Cache, ttl time.Duration, log *logrus.Entry) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: c,
		ttl:   ttl,
		log:   log,
		local: NewLocalStats(),
	}
}

func (s *CachedStore) SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []EventRecord, expectedVersion int64) error {
	if err := ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if err := s.inner.SaveEvents(ctx, aggregateID, events, expectedVersion); err != nil {
		return err
	}

	s.invalidate(ctx, aggregateID)
	s.local.RecordAppend(events)
	return nil
}

func (s *CachedStore) GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]EventRecord, error) {
	key := EventsCacheKey(aggregateID)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logWarn(err, aggregateID, "cache read failed")
	} else if ok {
		var events []EventRecord
		if err := json.Unmarshal(raw, &events); err == nil {
			return events, nil
		}
		// Corrupt entry; fall through to the store and overwrite it.
		s.logWarn(err, aggregateID, "cache entry undecodable")
	}

	events, err := s.inner.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(events); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			s.logWarn(err, aggregateID, "cache write failed")
		}
	}
	return events, nil
}

func (s *CachedStore) GetEventsFromVersion(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]EventRecord, error) {
	return s.inner.GetEventsFromVersion(ctx, aggregateID, fromVersion)
}

func (s *CachedStore) GetEventsByType(ctx context.Context, eventType string, from, to time.Time) ([]EventRecord, error) {
	return s.inner.GetEventsByType(ctx, eventType, from, to)
}

func (s *CachedStore) GetEventsByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]EventRecord, error) {
	return s.inner.GetEventsByTenant(ctx, tenantID, from, to)
}

func (s *CachedStore) GetAggregateVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	return s.inner.GetAggregateVersion(ctx, aggregateID)
}

func (s *CachedStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	return s.inner.Exists(ctx, aggregateID)
}

func (s *CachedStore) DeleteEvents(ctx context.Context, aggregateID uuid.UUID) error {
	if err := s.inner.DeleteEvents(ctx, aggregateID); err != nil {
		return err
	}
	s.invalidate(ctx, aggregateID)
	return nil
}

func (s *CachedStore) Stats(ctx context.Context) (Stats, error) {
	return s.inner.Stats(ctx)
}

// LocalStats is the process-local append estimate. Use Stats for the
// authoritative numbers.
func (s *CachedStore) LocalStats() Stats {
	return s.local.Snapshot()
}

func (s *CachedStore) invalidate(ctx context.Context, aggregateID uuid.UUID) {
	if err := s.cache.Del(ctx, EventsCacheKey(aggregateID)); err != nil {
		s.logWarn(err, aggregateID, "cache invalidation failed")
	}
}

func (s *CachedStore) logWarn(err error, aggregateID uuid.UUID, msg string) {
	if s.log == nil {
		return
	}
	s.log.WithError(err).WithField("aggregate_id", aggregateID.String()).Warn("eventstore: " + msg)
}
