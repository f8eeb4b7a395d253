package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/modules/tenant/domain/aggregates/tenant"
	"github.com/meridianhq/eventcore/pkg/composables"
	"github.com/meridianhq/eventcore/pkg/outbox"
)

const uniqueViolation = "23505"

// TenantRepository persists the Tenant aggregate. Save runs the event
// append, the tenants projection upsert and the outbox enqueue in one
// transaction, so either all of them commit or none do.
type TenantRepository struct {
	store       eventstore.Store
	publisher   outbox.Publisher
	outboxTable pgx.Identifier

	snapshots eventstore.SnapshotStore
	policy    eventstore.SnapshotPolicy
}

type TenantRepositoryOption func(*TenantRepository)

// WithSnapshots stores a state snapshot whenever the policy fires, and
// makes Replay start from the latest snapshot instead of version 1.
func WithSnapshots(snapshots eventstore.SnapshotStore, policy eventstore.SnapshotPolicy) TenantRepositoryOption {
	return func(r *TenantRepository) {
		r.snapshots = snapshots
		r.policy = policy
	}
}

func NewTenantRepository(store eventstore.Store, publisher outbox.Publisher, outboxTable pgx.Identifier, opts ...TenantRepositoryOption) tenant.Repository {
	r := &TenantRepository{
		store:       store,
		publisher:   publisher,
		outboxTable: outboxTable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// snapshotState is the persisted snapshot payload.
type snapshotState struct {
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *TenantRepository) Save(ctx context.Context, t *tenant.Tenant) error {
	events := t.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	newVersion := t.Version() + int64(len(events))
	err := composables.InTx(ctx, func(txCtx context.Context) error {
		if err := r.store.SaveEvents(txCtx, t.AggregateID(), events, t.Version()); err != nil {
			return err
		}
		if err := r.upsertProjection(txCtx, t, newVersion); err != nil {
			return err
		}
		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return err
		}
		for _, e := range events {
			_, err := r.publisher.Enqueue(txCtx, tx, r.outboxTable, outbox.Message{
				TenantID: t.AggregateID(),
				Topic:    e.EventType,
				EventID:  e.EventID,
				Payload:  e.EventData,
			})
			if err != nil {
				return err
			}
		}
		return r.maybeSnapshot(txCtx, t, newVersion)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "tenants_subdomain_key" {
			return tenant.ErrSubdomainTaken
		}
		return err
	}

	t.MarkCommitted()
	return nil
}

func (r *TenantRepository) upsertProjection(ctx context.Context, t *tenant.Tenant, version int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO tenants (id, name, subdomain, status, version)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  subdomain = EXCLUDED.subdomain,
  status = EXCLUDED.status,
  version = EXCLUDED.version,
  updated_at = now()
`, t.ID(), t.Name(), t.Subdomain(), string(t.Status()), version)
	if err != nil {
		return fmt.Errorf("upsert tenant projection: %w", err)
	}
	return nil
}

func (r *TenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
SELECT id, name, subdomain, status, version, created_at, updated_at
FROM tenants
WHERE id = $1
`, id)
	return scanTenant(row)
}

func (r *TenantRepository) maybeSnapshot(ctx context.Context, t *tenant.Tenant, version int64) error {
	if r.snapshots == nil || r.policy == nil || !r.policy.ShouldSnapshot(t.ID(), version) {
		return nil
	}
	data, err := json.Marshal(snapshotState{
		Name:      t.Name(),
		Subdomain: t.Subdomain(),
		Status:    string(t.Status()),
		CreatedAt: t.CreatedAt(),
		UpdatedAt: t.UpdatedAt(),
	})
	if err != nil {
		return err
	}
	return r.snapshots.Save(ctx, eventstore.Snapshot{
		AggregateID: t.ID(),
		Version:     version,
		Data:        data,
	})
}

func (r *TenantRepository) Replay(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	if r.snapshots != nil {
		if t, ok, err := r.replayFromSnapshot(ctx, id); err != nil {
			return nil, err
		} else if ok {
			return t, nil
		}
	}

	history, err := r.store.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, tenant.ErrNotFound
	}
	return tenant.Replay(id, history)
}

func (r *TenantRepository) replayFromSnapshot(ctx context.Context, id uuid.UUID) (*tenant.Tenant, bool, error) {
	snap, found, err := r.snapshots.Latest(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}
	var state snapshotState
	if err := json.Unmarshal(snap.Data, &state); err != nil {
		// Unreadable snapshot falls back to full replay.
		return nil, false, nil
	}

	t := tenant.Hydrate(id, state.Name, state.Subdomain, tenant.Status(state.Status), snap.Version, state.CreatedAt, state.UpdatedAt)
	tail, err := r.store.GetEventsFromVersion(ctx, id, snap.Version+1)
	if err != nil {
		return nil, false, err
	}
	if err := t.ApplyHistory(tail); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (r *TenantRepository) GetPaginated(ctx context.Context, params *tenant.FindParams) ([]*tenant.Tenant, int64, error) {
	if params == nil {
		params = &tenant.FindParams{}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}

	rows, err := tx.Query(ctx, `
SELECT id, name, subdomain, status, version, created_at, updated_at
FROM tenants
ORDER BY created_at ASC, id ASC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("tenant rows: %w", err)
	}

	var total int64
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM tenants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tenants: %w", err)
	}
	return out, total, nil
}

// Delete removes the tenant's projection row, event stream, ledger entry
// and snapshots. Irreversible.
func (r *TenantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return composables.InTx(ctx, func(txCtx context.Context) error {
		tx, err := composables.UseTx(txCtx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(txCtx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete tenant projection: %w", err)
		}
		return r.store.DeleteEvents(txCtx, id)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*tenant.Tenant, error) {
	var (
		id                 uuid.UUID
		name, subdomain    string
		status             string
		version            int64
		createdAt, updated pgtype.Timestamptz
	)
	err := row.Scan(&id, &name, &subdomain, &status, &version, &createdAt, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return tenant.Hydrate(id, name, subdomain, tenant.Status(status), version, createdAt.Time, updated.Time), nil
}
