// Package eventstore provides an append-only, optimistically concurrent
// event log for aggregates, with a per-aggregate version ledger.
//
// For a given aggregate the committed versions are always exactly 1..N
// with no gaps or duplicates; a batch appended against expectedVersion V
// receives versions V+1..V+len(batch) atomically.
package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventRecord is a single committed (or about-to-be-committed) domain
// event. EventData and EventMetadata are opaque to the store.
type EventRecord struct {
	EventID       uuid.UUID
	AggregateID   uuid.UUID
	EventType     string
	EventData     json.RawMessage
	EventMetadata json.RawMessage
	Version       int64
	OccurredAt    time.Time
	TenantID      uuid.UUID // uuid.Nil when the event is not tenant scoped
	CorrelationID string
	CausationID   string
}

// ValidateBatch checks the structural shape of an append batch before any
// I/O. Version and OccurredAt are assigned by the store and are not
// required on input.
func ValidateBatch(aggregateID uuid.UUID, events []EventRecord) error {
	if aggregateID == uuid.Nil {
		return ErrInvalidEventBatch.WithDetails("aggregate id is required")
	}
	if len(events) == 0 {
		return ErrInvalidEventBatch.WithDetails("batch is empty")
	}
	for i, e := range events {
		if e.EventID == uuid.Nil {
			return ErrInvalidEventBatch.WithDetails("event %d has no event id", i)
		}
		if e.AggregateID != aggregateID {
			return ErrInvalidEventBatch.WithDetails(
				"event %d aggregate id %s does not match %s", i, e.AggregateID, aggregateID)
		}
		if e.EventType == "" {
			return ErrInvalidEventBatch.WithDetails("event %d has no event type", i)
		}
	}
	return nil
}

// EventsCacheKey is the cache key for an aggregate's full event list.
func EventsCacheKey(aggregateID uuid.UUID) string {
	return fmt.Sprintf("events:%s", aggregateID)
}
