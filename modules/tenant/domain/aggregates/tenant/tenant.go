// Package tenant holds the event-sourced Tenant aggregate. Every state
// change goes through an event-raising mutator; the tenants table is a
// materialized projection of the stream, never the source of truth.
package tenant

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/modules/tenant/domain/events"
	"github.com/meridianhq/eventcore/pkg/serrors"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

var (
	ErrNotFound = serrors.NewError("TENANT_NOT_FOUND", "tenant not found", "tenants.errors.not_found")

	ErrNameRequired = serrors.NewError("TENANT_NAME_REQUIRED", "tenant name is required", "tenants.errors.name_required")

	ErrSubdomainTaken = serrors.NewError("TENANT_SUBDOMAIN_TAKEN", "subdomain is already taken", "tenants.errors.subdomain_taken")
)

type Tenant struct {
	eventstore.Root

	name      string
	subdomain string
	status    Status
	createdAt time.Time
	updatedAt time.Time
}

// New creates a tenant and raises tenant.created.v1 into the buffer. The
// aggregate is not persisted until the repository saves it.
func New(name, subdomain string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	id := uuid.New()
	t := &Tenant{
		Root:      eventstore.NewRoot(id),
		name:      name,
		subdomain: normalizeSubdomain(subdomain),
		status:    StatusActive,
	}
	t.raise(events.TopicTenantCreatedV1, events.TenantCreatedV1{
		Name:      t.name,
		Subdomain: t.subdomain,
	})
	return t, nil
}

// Hydrate rebuilds a tenant from the current-state projection. version is
// the ledger version the projection was materialized at.
func Hydrate(
	id uuid.UUID,
	name string,
	subdomain string,
	status Status,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Tenant {
	t := &Tenant{
		Root:      eventstore.NewRoot(id),
		name:      strings.TrimSpace(name),
		subdomain: normalizeSubdomain(subdomain),
		status:    status,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
	t.SetVersion(version)
	return t
}

// Replay rebuilds a tenant from its full event stream.
func Replay(id uuid.UUID, history []eventstore.EventRecord) (*Tenant, error) {
	t := &Tenant{Root: eventstore.NewRoot(id)}
	if err := t.ApplyHistory(history); err != nil {
		return nil, err
	}
	return t, nil
}

// ApplyHistory replays committed events on top of the current state.
// Used with a hydrated snapshot to bound replay cost: the history must
// start at Version()+1.
func (t *Tenant) ApplyHistory(history []eventstore.EventRecord) error {
	return t.LoadFromHistory(history, t.apply)
}

func (t *Tenant) Rename(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if name == t.name {
		return nil
	}
	old := t.name
	t.name = name
	t.raise(events.TopicTenantRenamedV1, events.TenantRenamedV1{
		OldName: old,
		NewName: name,
	})
	return nil
}

func (t *Tenant) Suspend() {
	t.changeStatus(StatusSuspended)
}

func (t *Tenant) Activate() {
	t.changeStatus(StatusActive)
}

func (t *Tenant) changeStatus(next Status) {
	if t.status == next {
		return
	}
	old := t.status
	t.status = next
	t.raise(events.TopicTenantStatusChangedV1, events.TenantStatusChangedV1{
		OldStatus: string(old),
		NewStatus: string(next),
	})
}

func (t *Tenant) raise(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload structs are plain data; marshalling cannot fail.
		panic(err)
	}
	t.Raise(eventType, t.AggregateID(), data, nil)
}

func (t *Tenant) apply(e eventstore.EventRecord) error {
	switch e.EventType {
	case events.TopicTenantCreatedV1:
		var p events.TenantCreatedV1
		if err := json.Unmarshal(e.EventData, &p); err != nil {
			return err
		}
		t.name = p.Name
		t.subdomain = p.Subdomain
		t.status = StatusActive
		t.createdAt = e.OccurredAt
		t.updatedAt = e.OccurredAt
	case events.TopicTenantRenamedV1:
		var p events.TenantRenamedV1
		if err := json.Unmarshal(e.EventData, &p); err != nil {
			return err
		}
		t.name = p.NewName
		t.updatedAt = e.OccurredAt
	case events.TopicTenantStatusChangedV1:
		var p events.TenantStatusChangedV1
		if err := json.Unmarshal(e.EventData, &p); err != nil {
			return err
		}
		t.status = Status(p.NewStatus)
		t.updatedAt = e.OccurredAt
	default:
		// Unknown event types are skipped so old streams replay under
		// newer code.
	}
	return nil
}

func (t *Tenant) ID() uuid.UUID        { return t.AggregateID() }
func (t *Tenant) Name() string         { return t.name }
func (t *Tenant) Subdomain() string    { return t.subdomain }
func (t *Tenant) Status() Status       { return t.status }
func (t *Tenant) IsActive() bool       { return t.status == StatusActive }
func (t *Tenant) CreatedAt() time.Time { return t.createdAt }
func (t *Tenant) UpdatedAt() time.Time { return t.updatedAt }

func normalizeSubdomain(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
