package tenant

import (
	"context"

	"github.com/google/uuid"
)

type FindParams struct {
	Limit  int
	Offset int
}

type Repository interface {
	// Save appends the aggregate's buffered events, refreshes the
	// current-state projection and enqueues the events for publishing,
	// all in one transaction. The buffer is cleared only on success.
	Save(ctx context.Context, t *Tenant) error

	// FindByID reads the current-state projection. It does not replay.
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// Replay reconstitutes the aggregate from its event stream,
	// bypassing the projection.
	Replay(ctx context.Context, id uuid.UUID) (*Tenant, error)

	GetPaginated(ctx context.Context, params *FindParams) ([]*Tenant, int64, error)

	Delete(ctx context.Context, id uuid.UUID) error
}
