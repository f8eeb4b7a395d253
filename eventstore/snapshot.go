package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a materialized aggregate state at a committed version, used
// to bound replay cost.
type Snapshot struct {
	AggregateID uuid.UUID
	Version     int64
	Data        []byte
	TakenAt     time.Time
}

type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	// Latest returns the most recent snapshot, or ok=false when none exists.
	Latest(ctx context.Context, aggregateID uuid.UUID) (Snapshot, bool, error)
	// Delete removes all snapshots of the aggregate.
	Delete(ctx context.Context, aggregateID uuid.UUID) error
}

// SnapshotPolicy decides whether a snapshot should be taken after an
// append that brought the aggregate to version.
type SnapshotPolicy interface {
	ShouldSnapshot(aggregateID uuid.UUID, version int64) bool
}

// EventCountPolicy snapshots every N committed events.
type EventCountPolicy struct {
	N int64
}

func (p EventCountPolicy) ShouldSnapshot(_ uuid.UUID, version int64) bool {
	return p.N > 0 && version%p.N == 0
}
