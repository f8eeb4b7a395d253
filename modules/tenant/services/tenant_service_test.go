package services_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/modules/tenant/domain/aggregates/tenant"
	"github.com/meridianhq/eventcore/modules/tenant/services"
)

// memRepo drives the service against the in-memory event store. State
// reads reconstitute by replay instead of a projection table.
type memRepo struct {
	store eventstore.Store
}

func (r *memRepo) Save(ctx context.Context, t *tenant.Tenant) error {
	events := t.UncommittedEvents()
	if len(events) == 0 {
		return nil
	}
	if err := r.store.SaveEvents(ctx, t.AggregateID(), events, t.Version()); err != nil {
		return err
	}
	t.MarkCommitted()
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return r.Replay(ctx, id)
}

func (r *memRepo) Replay(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	history, err := r.store.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, tenant.ErrNotFound
	}
	return tenant.Replay(id, history)
}

func (r *memRepo) GetPaginated(ctx context.Context, params *tenant.FindParams) ([]*tenant.Tenant, int64, error) {
	return nil, 0, nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteEvents(ctx, id)
}

func newService() (*services.TenantService, eventstore.Store) {
	store := eventstore.NewMemoryStore()
	return services.NewTenantService(&memRepo{store: store}), store
}

func TestTenantService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	created, err := svc.Create(ctx, &tenant.CreateDTO{Name: "Acme", Subdomain: "ACME "})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version())
	assert.Empty(t, created.UncommittedEvents())

	got, err := svc.GetByID(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name())
	assert.Equal(t, "acme", got.Subdomain())

	version, err := store.GetAggregateVersion(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestTenantService_RenameTracksVersions(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	created, err := svc.Create(ctx, &tenant.CreateDTO{Name: "Acme", Subdomain: "acme"})
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, created.ID(), "Acme Industries")
	require.NoError(t, err)
	assert.Equal(t, "Acme Industries", renamed.Name())
	assert.Equal(t, int64(2), renamed.Version())

	version, err := store.GetAggregateVersion(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestTenantService_SaveFailureKeepsBuffer(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	created, err := svc.Create(ctx, &tenant.CreateDTO{Name: "Acme", Subdomain: "acme"})
	require.NoError(t, err)

	// A competing writer advances the stream behind our back.
	stale, err := svc.GetByID(ctx, created.ID())
	require.NoError(t, err)
	_, err = svc.Rename(ctx, created.ID(), "Winner")
	require.NoError(t, err)

	require.NoError(t, stale.Rename("Loser"))
	repoErr := (&memRepo{store: store}).Save(ctx, stale)

	var conflict *eventstore.ConcurrencyError
	require.ErrorAs(t, repoErr, &conflict)
	// Buffer survives the failed save so the caller can reload and retry.
	assert.Len(t, stale.UncommittedEvents(), 1)
	assert.Equal(t, int64(1), stale.Version())
}

func TestTenantService_SuspendActivate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	created, err := svc.Create(ctx, &tenant.CreateDTO{Name: "Acme", Subdomain: "acme"})
	require.NoError(t, err)

	suspended, err := svc.Suspend(ctx, created.ID())
	require.NoError(t, err)
	assert.False(t, suspended.IsActive())

	activated, err := svc.Activate(ctx, created.ID())
	require.NoError(t, err)
	assert.True(t, activated.IsActive())
	assert.Equal(t, int64(3), activated.Version())
}

func TestTenantService_Delete(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	created, err := svc.Create(ctx, &tenant.CreateDTO{Name: "Acme", Subdomain: "acme"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID()))

	_, err = svc.GetByID(ctx, created.ID())
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	exists, err := store.Exists(ctx, created.ID())
	require.NoError(t, err)
	assert.False(t, exists)
}
