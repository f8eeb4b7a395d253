package eventstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(aggregateID, tenantID uuid.UUID, eventType string) EventRecord {
	return EventRecord{
		EventID:     uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		EventData:   []byte(`{}`),
		TenantID:    tenantID,
	}
}

func TestMemoryStore_AppendAssignsGaplessVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{
		newEvent(aggID, uuid.Nil, "created"),
	}, 0))
	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{
		newEvent(aggID, uuid.Nil, "renamed"),
		newEvent(aggID, uuid.Nil, "renamed"),
	}, 1))

	version, err := store.GetAggregateVersion(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	events, err := store.GetEvents(ctx, aggID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
	}
}

func TestMemoryStore_BatchGetsConsecutiveVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	base := make([]EventRecord, 5)
	for i := range base {
		base[i] = newEvent(aggID, uuid.Nil, "seeded")
	}
	require.NoError(t, store.SaveEvents(ctx, aggID, base, 0))

	batch := []EventRecord{
		newEvent(aggID, uuid.Nil, "a"),
		newEvent(aggID, uuid.Nil, "b"),
		newEvent(aggID, uuid.Nil, "c"),
	}
	require.NoError(t, store.SaveEvents(ctx, aggID, batch, 5))

	events, err := store.GetEventsFromVersion(ctx, aggID, 6)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(6), events[0].Version)
	assert.Equal(t, int64(7), events[1].Version)
	assert.Equal(t, int64(8), events[2].Version)
}

func TestMemoryStore_StaleExpectedVersionRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{newEvent(aggID, uuid.Nil, "created")}, 0))
	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{
		newEvent(aggID, uuid.Nil, "updated"),
		newEvent(aggID, uuid.Nil, "updated"),
	}, 1))

	// Stale writer still believes version is 1.
	err := store.SaveEvents(ctx, aggID, []EventRecord{newEvent(aggID, uuid.Nil, "updated")}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	var conflict *ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(3), conflict.Actual)

	version, err := store.GetAggregateVersion(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version, "ledger must be unchanged after a rejected append")
}

func TestMemoryStore_ValidationFailsBeforeIO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	cases := map[string][]EventRecord{
		"empty batch": {},
		"missing event id": {
			{AggregateID: aggID, EventType: "created"},
		},
		"mismatched aggregate id": {
			newEvent(uuid.New(), uuid.Nil, "created"),
		},
		"missing event type": {
			{EventID: uuid.New(), AggregateID: aggID},
		},
	}

	for name, batch := range cases {
		err := store.SaveEvents(ctx, aggID, batch, 0)
		assert.ErrorIs(t, err, ErrInvalidEventBatch, name)
	}

	exists, err := store.Exists(ctx, aggID)
	require.NoError(t, err)
	assert.False(t, exists, "no ledger entry may appear after rejected batches")
}

func TestMemoryStore_DeleteEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{
		newEvent(aggID, uuid.Nil, "created"),
		newEvent(aggID, uuid.Nil, "updated"),
	}, 0))

	require.NoError(t, store.DeleteEvents(ctx, aggID))

	version, err := store.GetAggregateVersion(ctx, aggID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	exists, err := store.Exists(ctx, aggID)
	require.NoError(t, err)
	assert.False(t, exists)

	events, err := store.GetEvents(ctx, aggID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_GetEventsByTenant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := uuid.New()
	tenantB := uuid.New()

	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	aggA := uuid.New()
	aggB := uuid.New()
	eventsA := []EventRecord{
		newEvent(aggA, tenantA, "created"),
		newEvent(aggA, tenantA, "updated"),
		newEvent(aggA, tenantA, "updated"),
	}
	for i := range eventsA {
		eventsA[i].OccurredAt = t0.Add(time.Duration(i) * time.Hour)
	}
	require.NoError(t, store.SaveEvents(ctx, aggA, eventsA, 0))

	eventB := newEvent(aggB, tenantB, "created")
	eventB.OccurredAt = t0
	require.NoError(t, store.SaveEvents(ctx, aggB, []EventRecord{eventB}, 0))

	// Window covers only the first two tenant-A events.
	got, err := store.GetEventsByTenant(ctx, tenantA, t0, t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, tenantA, e.TenantID)
	}
	assert.True(t, got[0].OccurredAt.Before(got[1].OccurredAt), "must be ordered by occurrence time")
}

func TestMemoryStore_GetEventsByType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	aggA := uuid.New()
	aggB := uuid.New()
	require.NoError(t, store.SaveEvents(ctx, aggA, []EventRecord{
		newEvent(aggA, uuid.Nil, "created"),
		newEvent(aggA, uuid.Nil, "renamed"),
	}, 0))
	require.NoError(t, store.SaveEvents(ctx, aggB, []EventRecord{
		newEvent(aggB, uuid.Nil, "created"),
	}, 0))

	got, err := store.GetEventsByType(ctx, "created", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "created", e.EventType)
	}
}

func TestMemoryStore_StatsAuthoritative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	tenantA := uuid.New()

	aggA := uuid.New()
	aggB := uuid.New()
	require.NoError(t, store.SaveEvents(ctx, aggA, []EventRecord{
		newEvent(aggA, tenantA, "created"),
		newEvent(aggA, tenantA, "renamed"),
	}, 0))
	require.NoError(t, store.SaveEvents(ctx, aggB, []EventRecord{
		newEvent(aggB, uuid.Nil, "created"),
	}, 0))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(2), stats.TotalAggregates)
	assert.Equal(t, int64(2), stats.EventsByType["created"])
	assert.Equal(t, int64(1), stats.EventsByType["renamed"])
	assert.Equal(t, int64(2), stats.EventsByTenant[tenantA])
	assert.False(t, stats.OldestEvent.IsZero())
	assert.False(t, stats.NewestEvent.Before(stats.OldestEvent))
}

func TestMemoryStore_NewAggregateScenario(t *testing.T) {
	t.Parallel()

	// Append 1 event to a new aggregate with expectedVersion=0, then 2 more
	// with expectedVersion=1, then retry the stale expectedVersion=1.
	ctx := context.Background()
	store := NewMemoryStore()
	aggID := uuid.New()

	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{newEvent(aggID, uuid.Nil, "created")}, 0))
	v, _ := store.GetAggregateVersion(ctx, aggID)
	require.Equal(t, int64(1), v)

	require.NoError(t, store.SaveEvents(ctx, aggID, []EventRecord{
		newEvent(aggID, uuid.Nil, "updated"),
		newEvent(aggID, uuid.Nil, "updated"),
	}, 1))
	v, _ = store.GetAggregateVersion(ctx, aggID)
	require.Equal(t, int64(3), v)

	err := store.SaveEvents(ctx, aggID, []EventRecord{newEvent(aggID, uuid.Nil, "updated")}, 1)
	require.True(t, errors.Is(err, ErrConcurrencyConflict))

	v, _ = store.GetAggregateVersion(ctx, aggID)
	require.Equal(t, int64(3), v)
}
