package eventstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Root is the embeddable base of an event-sourced aggregate. It tracks
// the committed version and buffers raised events until the repository
// persists them.
type Root struct {
	id          uuid.UUID
	version     int64
	uncommitted []EventRecord
}

func NewRoot(id uuid.UUID) Root {
	return Root{id: id}
}

func (r *Root) AggregateID() uuid.UUID { return r.id }

// Version is the last committed version. Buffered events are not counted
// until the repository confirms the append.
func (r *Root) Version() int64 { return r.version }

// Raise buffers a new event. Version numbers are provisional until
// committed; the store assigns the same numbers as long as the append
// happens against Version().
func (r *Root) Raise(eventType string, tenantID uuid.UUID, data, metadata json.RawMessage) EventRecord {
	e := EventRecord{
		EventID:       uuid.New(),
		AggregateID:   r.id,
		EventType:     eventType,
		EventData:     data,
		EventMetadata: metadata,
		Version:       r.version + int64(len(r.uncommitted)) + 1,
		OccurredAt:    time.Now().UTC(),
		TenantID:      tenantID,
	}
	r.uncommitted = append(r.uncommitted, e)
	return e
}

func (r *Root) UncommittedEvents() []EventRecord {
	out := make([]EventRecord, len(r.uncommitted))
	copy(out, r.uncommitted)
	return out
}

// MarkCommitted clears the buffer and advances the committed version.
// Call only after the store append succeeded.
func (r *Root) MarkCommitted() {
	r.version += int64(len(r.uncommitted))
	r.uncommitted = nil
}

// LoadFromHistory replays committed events through apply, in order.
// The buffer must be empty.
func (r *Root) LoadFromHistory(events []EventRecord, apply func(EventRecord) error) error {
	if len(r.uncommitted) > 0 {
		return fmt.Errorf("cannot replay with %d uncommitted events buffered", len(r.uncommitted))
	}
	for _, e := range events {
		if e.Version != r.version+1 {
			return fmt.Errorf("replay gap: expected version %d, got %d", r.version+1, e.Version)
		}
		if err := apply(e); err != nil {
			return fmt.Errorf("apply %s at version %d: %w", e.EventType, e.Version, err)
		}
		r.version = e.Version
	}
	return nil
}

// SetVersion restores the committed version when an aggregate is
// reconstituted from a current-state projection rather than by replay.
func (r *Root) SetVersion(v int64) { r.version = v }
