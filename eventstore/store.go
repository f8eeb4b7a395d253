package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the event store port consumed by aggregate repositories.
//
// SaveEvents is the only write path for the event table and the version
// ledger; callers never touch them directly.
type Store interface {
	// SaveEvents appends events atomically against expectedVersion.
	// A new aggregate is created with expectedVersion 0. On a version
	// mismatch it returns a *ConcurrencyError; on a malformed batch,
	// ErrInvalidEventBatch. Partial writes are never observable.
	SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []EventRecord, expectedVersion int64) error

	// GetEvents returns all events of the aggregate in ascending version
	// order. The ordering is load-bearing for replay correctness.
	GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]EventRecord, error)

	// GetEventsFromVersion returns events with version >= fromVersion,
	// ascending.
	GetEventsFromVersion(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]EventRecord, error)

	// GetEventsByType returns events of the given type with occurredAt in
	// [from, to], ordered by occurrence time ascending.
	GetEventsByType(ctx context.Context, eventType string, from, to time.Time) ([]EventRecord, error)

	// GetEventsByTenant returns the tenant's events with occurredAt in
	// [from, to], ordered by occurrence time ascending.
	GetEventsByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]EventRecord, error)

	// GetAggregateVersion returns the ledger version, or 0 when the
	// aggregate has no ledger entry. 0 is what SaveEvents expects when
	// creating a brand-new aggregate.
	GetAggregateVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error)

	// Exists reports whether the aggregate has a ledger entry.
	Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error)

	// DeleteEvents removes all event rows and the ledger entry of the
	// aggregate atomically. Irreversible; not a soft delete.
	DeleteEvents(ctx context.Context, aggregateID uuid.UUID) error

	// Stats computes aggregate statistics from the durable store. It is
	// authoritative and consistent across process restarts.
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a snapshot of store-wide statistics.
type Stats struct {
	TotalEvents     int64
	TotalAggregates int64
	EventsByType    map[string]int64
	EventsByTenant  map[uuid.UUID]int64
	OldestEvent     time.Time
	NewestEvent     time.Time
}
