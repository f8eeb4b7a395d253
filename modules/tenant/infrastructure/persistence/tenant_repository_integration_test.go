//go:build integration

package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/eventcore/eventstore"
	esPersistence "github.com/meridianhq/eventcore/eventstore/persistence"
	"github.com/meridianhq/eventcore/modules/tenant/domain/aggregates/tenant"
	"github.com/meridianhq/eventcore/modules/tenant/domain/events"
	"github.com/meridianhq/eventcore/pkg/composables"
	"github.com/meridianhq/eventcore/pkg/outbox"
)

func repoTestSetup(t *testing.T, ctx context.Context) (context.Context, *pgxpool.Pool, tenant.Repository) {
	t.Helper()
	dsn := os.Getenv("EVENTCORE_TEST_DSN")
	if dsn == "" {
		t.Skip("EVENTCORE_TEST_DSN is not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ddl := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
		`CREATE TABLE IF NOT EXISTS aggregates (
  aggregate_id UUID NOT NULL PRIMARY KEY,
  version BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS events (
  event_id UUID NOT NULL PRIMARY KEY,
  aggregate_id UUID NOT NULL,
  event_type TEXT NOT NULL,
  event_data JSONB NOT NULL,
  event_metadata JSONB NOT NULL DEFAULT '{}',
  version BIGINT NOT NULL,
  occurred_at TIMESTAMPTZ NOT NULL,
  tenant_id UUID,
  correlation_id TEXT NOT NULL DEFAULT '',
  causation_id TEXT NOT NULL DEFAULT '',
  UNIQUE (aggregate_id, version)
)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
  aggregate_id UUID NOT NULL,
  version BIGINT NOT NULL,
  data JSONB NOT NULL,
  taken_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (aggregate_id, version)
)`,
		`CREATE TABLE IF NOT EXISTS tenants (
  id UUID NOT NULL PRIMARY KEY,
  name TEXT NOT NULL,
  subdomain TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active',
  version BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
  id UUID NOT NULL DEFAULT gen_random_uuid() PRIMARY KEY,
  tenant_id UUID NOT NULL,
  topic TEXT NOT NULL,
  payload JSONB NOT NULL,
  event_id UUID NOT NULL UNIQUE,
  sequence BIGSERIAL NOT NULL,
  attempts INT NOT NULL DEFAULT 0,
  available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  locked_at TIMESTAMPTZ,
  published_at TIMESTAMPTZ,
  last_error TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
	for _, stmt := range ddl {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	store := esPersistence.NewPgStore(pool)
	table, err := outbox.ParseIdentifier("public.event_outbox")
	require.NoError(t, err)
	repo := NewTenantRepository(store, outbox.NewPublisher(), table)

	return composables.WithPool(ctx, pool), pool, repo
}

func TestTenantRepository_Integration_SaveProjectsAndEnqueues(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, pool, repo := repoTestSetup(t, ctx)

	agg, err := tenant.New("Acme", "acme-"+agg8(t))
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, agg))
	assert.Equal(t, int64(1), agg.Version())
	assert.Empty(t, agg.UncommittedEvents())

	found, err := repo.FindByID(ctx, agg.ID())
	require.NoError(t, err)
	assert.Equal(t, "Acme", found.Name())
	assert.Equal(t, int64(1), found.Version())

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM event_outbox WHERE tenant_id = $1 AND topic = $2`,
		agg.ID(), events.TopicTenantCreatedV1,
	).Scan(&outboxCount))
	assert.Equal(t, 1, outboxCount)
}

func TestTenantRepository_Integration_ConflictRollsBackEverything(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, pool, repo := repoTestSetup(t, ctx)

	agg, err := tenant.New("Acme", "acme-"+agg8(t))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, agg))

	winner, err := repo.FindByID(ctx, agg.ID())
	require.NoError(t, err)
	loser, err := repo.FindByID(ctx, agg.ID())
	require.NoError(t, err)

	require.NoError(t, winner.Rename("Winner"))
	require.NoError(t, repo.Save(ctx, winner))

	require.NoError(t, loser.Rename("Loser"))
	err = repo.Save(ctx, loser)
	var conflict *eventstore.ConcurrencyError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, loser.UncommittedEvents(), 1)

	// The losing transaction left no trace: projection, stream and
	// outbox all reflect the winner only.
	found, err := repo.FindByID(ctx, agg.ID())
	require.NoError(t, err)
	assert.Equal(t, "Winner", found.Name())
	assert.Equal(t, int64(2), found.Version())

	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM event_outbox WHERE tenant_id = $1`, agg.ID(),
	).Scan(&outboxCount))
	assert.Equal(t, 2, outboxCount)
}

func TestTenantRepository_Integration_ReplayMatchesProjection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, _, repo := repoTestSetup(t, ctx)

	agg, err := tenant.New("Acme", "acme-"+agg8(t))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, agg))
	require.NoError(t, agg.Rename("Acme Industries"))
	agg.Suspend()
	require.NoError(t, repo.Save(ctx, agg))

	projected, err := repo.FindByID(ctx, agg.ID())
	require.NoError(t, err)
	replayed, err := repo.Replay(ctx, agg.ID())
	require.NoError(t, err)

	assert.Equal(t, projected.Name(), replayed.Name())
	assert.Equal(t, projected.Status(), replayed.Status())
	assert.Equal(t, projected.Version(), replayed.Version())
}

func TestTenantRepository_Integration_Delete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx, _, repo := repoTestSetup(t, ctx)

	agg, err := tenant.New("Acme", "acme-"+agg8(t))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, agg))

	require.NoError(t, repo.Delete(ctx, agg.ID()))

	_, err = repo.FindByID(ctx, agg.ID())
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	_, err = repo.Replay(ctx, agg.ID())
	assert.ErrorIs(t, err, tenant.ErrNotFound)
}

func agg8(t *testing.T) string {
	t.Helper()
	return time.Now().UTC().Format("150405.000000")
}
