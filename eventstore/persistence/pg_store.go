// Package persistence implements the event store ports on Postgres via pgx.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/pkg/constants"
	"github.com/meridianhq/eventcore/pkg/repo"
)

const uniqueViolation = "23505"

// PgStore is the Postgres event store. All writes to the events table and
// the aggregates ledger go through it.
//
// When the context carries a transaction (composables.WithTx) the store
// joins it, so repository adapters can append events, update projections
// and enqueue outbox messages atomically. Otherwise each write runs in
// its own transaction.
type PgStore struct {
	pool *pgxpool.Pool
	m    *storeMetrics
}

var _ eventstore.Store = (*PgStore)(nil)

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, m: getStoreMetrics()}
}

func (s *PgStore) SaveEvents(ctx context.Context, aggregateID uuid.UUID, events []eventstore.EventRecord, expectedVersion int64) error {
	if err := eventstore.ValidateBatch(aggregateID, events); err != nil {
		return err
	}

	start := time.Now()
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.saveEventsTx(ctx, tx, aggregateID, events, expectedVersion)
	})

	// A racing writer that slipped past the ledger lock is stopped by the
	// (aggregate_id, version) unique constraint; surface it as the same
	// conflict the ledger check reports.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		actual, verr := s.GetAggregateVersion(ctx, aggregateID)
		if verr != nil {
			return fmt.Errorf("save events: %w", err)
		}
		err = &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}

	s.m.observeAppend(err, len(events), time.Since(start))
	return err
}

func (s *PgStore) saveEventsTx(ctx context.Context, tx pgx.Tx, aggregateID uuid.UUID, events []eventstore.EventRecord, expectedVersion int64) error {
	// Lock the ledger row for the duration of the transaction so the
	// version check and the append are a single atomic step.
	var actual int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM aggregates WHERE aggregate_id = $1 FOR UPDATE`,
		aggregateID,
	).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		actual = 0
	} else if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if actual != expectedVersion {
		return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
	}

	newVersion := expectedVersion + int64(len(events))
	_, err = tx.Exec(ctx, `
INSERT INTO aggregates (aggregate_id, version)
VALUES ($1, $2)
ON CONFLICT (aggregate_id) DO UPDATE SET version = EXCLUDED.version, updated_at = now()
`, aggregateID, newVersion)
	if err != nil {
		return fmt.Errorf("upsert ledger: %w", err)
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i, e := range events {
		occurredAt := e.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = now
		}
		data := e.EventData
		if len(data) == 0 {
			data = []byte(`{}`)
		}
		metadata := e.EventMetadata
		if len(metadata) == 0 {
			metadata = []byte(`{}`)
		}
		batch.Queue(`
INSERT INTO events (
  event_id,
  aggregate_id,
  event_type,
  event_data,
  event_metadata,
  version,
  occurred_at,
  tenant_id,
  correlation_id,
  causation_id
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
			e.EventID,
			aggregateID,
			e.EventType,
			data,
			metadata,
			expectedVersion+int64(i)+1,
			occurredAt,
			pgUUID(e.TenantID),
			e.CorrelationID,
			e.CausationID,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return nil
}

const eventColumns = `
  event_id,
  aggregate_id,
  event_type,
  event_data,
  event_metadata,
  version,
  occurred_at,
  tenant_id,
  correlation_id,
  causation_id`

func (s *PgStore) GetEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.EventRecord, error) {
	rows, err := s.q(ctx).Query(ctx, `
SELECT`+eventColumns+`
FROM events
WHERE aggregate_id = $1
ORDER BY version ASC
`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	return scanEvents(rows)
}

func (s *PgStore) GetEventsFromVersion(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]eventstore.EventRecord, error) {
	rows, err := s.q(ctx).Query(ctx, `
SELECT`+eventColumns+`
FROM events
WHERE aggregate_id = $1 AND version >= $2
ORDER BY version ASC
`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("get events from version: %w", err)
	}
	return scanEvents(rows)
}

func (s *PgStore) GetEventsByType(ctx context.Context, eventType string, from, to time.Time) ([]eventstore.EventRecord, error) {
	rows, err := s.q(ctx).Query(ctx, `
SELECT`+eventColumns+`
FROM events
WHERE event_type = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
ORDER BY occurred_at ASC
`, eventType, pgTime(from), pgTime(to))
	if err != nil {
		return nil, fmt.Errorf("get events by type: %w", err)
	}
	return scanEvents(rows)
}

func (s *PgStore) GetEventsByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]eventstore.EventRecord, error) {
	rows, err := s.q(ctx).Query(ctx, `
SELECT`+eventColumns+`
FROM events
WHERE tenant_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
ORDER BY occurred_at ASC
`, tenantID, pgTime(from), pgTime(to))
	if err != nil {
		return nil, fmt.Errorf("get events by tenant: %w", err)
	}
	return scanEvents(rows)
}

func (s *PgStore) GetAggregateVersion(ctx context.Context, aggregateID uuid.UUID) (int64, error) {
	var version int64
	err := s.q(ctx).QueryRow(ctx,
		`SELECT version FROM aggregates WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get aggregate version: %w", err)
	}
	return version, nil
}

func (s *PgStore) Exists(ctx context.Context, aggregateID uuid.UUID) (bool, error) {
	var exists bool
	err := s.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM aggregates WHERE aggregate_id = $1)`,
		aggregateID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return exists, nil
}

func (s *PgStore) DeleteEvents(ctx context.Context, aggregateID uuid.UUID) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM events WHERE aggregate_id = $1`, aggregateID); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID); err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM aggregates WHERE aggregate_id = $1`, aggregateID); err != nil {
			return fmt.Errorf("delete ledger: %w", err)
		}
		return nil
	})
}

func (s *PgStore) Stats(ctx context.Context) (eventstore.Stats, error) {
	db := s.q(ctx)
	stats := eventstore.Stats{
		EventsByType:   make(map[string]int64),
		EventsByTenant: make(map[uuid.UUID]int64),
	}

	var oldest, newest pgtype.Timestamptz
	err := db.QueryRow(ctx, `
SELECT
  count(*),
  (SELECT count(*) FROM aggregates),
  min(occurred_at),
  max(occurred_at)
FROM events
`).Scan(&stats.TotalEvents, &stats.TotalAggregates, &oldest, &newest)
	if err != nil {
		return eventstore.Stats{}, fmt.Errorf("stats totals: %w", err)
	}
	if oldest.Valid {
		stats.OldestEvent = oldest.Time
	}
	if newest.Valid {
		stats.NewestEvent = newest.Time
	}

	rows, err := db.Query(ctx, `SELECT event_type, count(*) FROM events GROUP BY event_type`)
	if err != nil {
		return eventstore.Stats{}, fmt.Errorf("stats by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return eventstore.Stats{}, fmt.Errorf("stats by type scan: %w", err)
		}
		stats.EventsByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return eventstore.Stats{}, fmt.Errorf("stats by type rows: %w", err)
	}

	tenantRows, err := db.Query(ctx, `
SELECT tenant_id, count(*) FROM events WHERE tenant_id IS NOT NULL GROUP BY tenant_id
`)
	if err != nil {
		return eventstore.Stats{}, fmt.Errorf("stats by tenant: %w", err)
	}
	defer tenantRows.Close()
	for tenantRows.Next() {
		var tenantID uuid.UUID
		var count int64
		if err := tenantRows.Scan(&tenantID, &count); err != nil {
			return eventstore.Stats{}, fmt.Errorf("stats by tenant scan: %w", err)
		}
		stats.EventsByTenant[tenantID] = count
	}
	if err := tenantRows.Err(); err != nil {
		return eventstore.Stats{}, fmt.Errorf("stats by tenant rows: %w", err)
	}

	return stats, nil
}

// q returns the context transaction when present, otherwise the pool.
func (s *PgStore) q(ctx context.Context) repo.Tx {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// withTx joins the context transaction when present (the caller owns the
// commit); otherwise it wraps fn in its own transaction.
func (s *PgStore) withTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok {
		return fn(ctx, tx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func scanEvents(rows pgx.Rows) ([]eventstore.EventRecord, error) {
	defer rows.Close()

	var out []eventstore.EventRecord
	for rows.Next() {
		var e eventstore.EventRecord
		var tenantID pgtype.UUID
		var occurredAt pgtype.Timestamptz
		err := rows.Scan(
			&e.EventID,
			&e.AggregateID,
			&e.EventType,
			&e.EventData,
			&e.EventMetadata,
			&e.Version,
			&occurredAt,
			&tenantID,
			&e.CorrelationID,
			&e.CausationID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if tenantID.Valid {
			e.TenantID = uuid.UUID(tenantID.Bytes)
		}
		if occurredAt.Valid {
			e.OccurredAt = occurredAt.Time
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event rows: %w", err)
	}
	return out, nil
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
