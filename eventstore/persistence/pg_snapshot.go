package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/pkg/constants"
	"github.com/meridianhq/eventcore/pkg/repo"
)

// PgSnapshotStore persists aggregate snapshots. Re-saving the same
// (aggregate, version) pair overwrites the stored state, so retried
// snapshotters stay idempotent.
type PgSnapshotStore struct {
	pool *pgxpool.Pool
}

var _ eventstore.SnapshotStore = (*PgSnapshotStore)(nil)

func NewPgSnapshotStore(pool *pgxpool.Pool) *PgSnapshotStore {
	return &PgSnapshotStore{pool: pool}
}

func (s *PgSnapshotStore) Save(ctx context.Context, snapshot eventstore.Snapshot) error {
	takenAt := snapshot.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	data := snapshot.Data
	if len(data) == 0 {
		data = []byte(`{}`)
	}
	_, err := s.q(ctx).Exec(ctx, `
INSERT INTO snapshots (aggregate_id, version, data, taken_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (aggregate_id, version) DO UPDATE SET data = EXCLUDED.data, taken_at = EXCLUDED.taken_at
`, snapshot.AggregateID, snapshot.Version, data, takenAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PgSnapshotStore) Latest(ctx context.Context, aggregateID uuid.UUID) (eventstore.Snapshot, bool, error) {
	var snapshot eventstore.Snapshot
	err := s.q(ctx).QueryRow(ctx, `
SELECT aggregate_id, version, data, taken_at
FROM snapshots
WHERE aggregate_id = $1
ORDER BY version DESC
LIMIT 1
`, aggregateID).Scan(&snapshot.AggregateID, &snapshot.Version, &snapshot.Data, &snapshot.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return eventstore.Snapshot{}, false, nil
	}
	if err != nil {
		return eventstore.Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	return snapshot, true, nil
}

func (s *PgSnapshotStore) Delete(ctx context.Context, aggregateID uuid.UUID) error {
	if _, err := s.q(ctx).Exec(ctx, `DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

func (s *PgSnapshotStore) q(ctx context.Context) repo.Tx {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}
