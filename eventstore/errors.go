package eventstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianhq/eventcore/pkg/serrors"
)

var (
	// ErrInvalidEventBatch rejects a malformed batch before any I/O.
	// The caller must fix the batch; retrying as-is will fail again.
	ErrInvalidEventBatch = serrors.NewError("EVENTSTORE_INVALID_BATCH", "invalid event batch", "")

	// ErrConcurrencyConflict signals the caller's in-memory aggregate is
	// stale. Recovery is to reload the aggregate and retry the business
	// operation, not to retry the same write.
	ErrConcurrencyConflict = serrors.NewError("EVENTSTORE_CONCURRENCY_CONFLICT", "aggregate version conflict", "")
)

// ConcurrencyError carries both versions of a failed optimistic
// concurrency check. errors.Is(err, ErrConcurrencyConflict) matches it.
type ConcurrencyError struct {
	AggregateID uuid.UUID
	Expected    int64
	Actual      int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"aggregate %s: expected version %d but ledger is at %d",
		e.AggregateID, e.Expected, e.Actual,
	)
}

func (e *ConcurrencyError) Unwrap() error {
	return ErrConcurrencyConflict
}
