package eventstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot_RaiseBuffersWithProvisionalVersions(t *testing.T) {
	t.Parallel()

	root := NewRoot(uuid.New())
	root.Raise("created", uuid.Nil, []byte(`{}`), nil)
	root.Raise("renamed", uuid.Nil, []byte(`{}`), nil)

	events := root.UncommittedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(2), events[1].Version)
	assert.Equal(t, int64(0), root.Version(), "buffered events are not committed")

	root.MarkCommitted()
	assert.Equal(t, int64(2), root.Version())
	assert.Empty(t, root.UncommittedEvents())
}

func TestRoot_SaveThenRaiseContinuesNumbering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	root := NewRoot(id)
	root.Raise("created", uuid.Nil, []byte(`{}`), nil)
	require.NoError(t, store.SaveEvents(ctx, id, root.UncommittedEvents(), root.Version()))
	root.MarkCommitted()

	root.Raise("renamed", uuid.Nil, []byte(`{}`), nil)
	events := root.UncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Version)

	require.NoError(t, store.SaveEvents(ctx, id, events, root.Version()))
	root.MarkCommitted()
	assert.Equal(t, int64(2), root.Version())
}

func TestRoot_LoadFromHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	writer := NewRoot(id)
	writer.Raise("created", uuid.Nil, []byte(`{}`), nil)
	writer.Raise("renamed", uuid.Nil, []byte(`{}`), nil)
	require.NoError(t, store.SaveEvents(ctx, id, writer.UncommittedEvents(), 0))

	history, err := store.GetEvents(ctx, id)
	require.NoError(t, err)

	reader := NewRoot(id)
	var applied []string
	require.NoError(t, reader.LoadFromHistory(history, func(e EventRecord) error {
		applied = append(applied, e.EventType)
		return nil
	}))
	assert.Equal(t, []string{"created", "renamed"}, applied)
	assert.Equal(t, int64(2), reader.Version())
}

func TestRoot_LoadFromHistoryRejectsGaps(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	root := NewRoot(id)
	err := root.LoadFromHistory([]EventRecord{
		{EventID: uuid.New(), AggregateID: id, EventType: "created", Version: 2},
	}, func(EventRecord) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay gap")
}

func TestEventCountPolicy(t *testing.T) {
	t.Parallel()

	p := EventCountPolicy{N: 100}
	assert.False(t, p.ShouldSnapshot(uuid.Nil, 99))
	assert.True(t, p.ShouldSnapshot(uuid.Nil, 100))
	assert.False(t, p.ShouldSnapshot(uuid.Nil, 101))
	assert.True(t, p.ShouldSnapshot(uuid.Nil, 200))

	assert.False(t, EventCountPolicy{}.ShouldSnapshot(uuid.Nil, 100), "zero interval never snapshots")
}
