package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/meridianhq/eventcore/modules/tenant/domain/aggregates/tenant"
)

type TenantService struct {
	repo tenant.Repository
}

func NewTenantService(repo tenant.Repository) *TenantService {
	return &TenantService{repo: repo}
}

func (s *TenantService) Create(ctx context.Context, dto *tenant.CreateDTO) (*tenant.Tenant, error) {
	if dto == nil {
		return nil, errors.New("missing dto")
	}
	dto.Normalize()
	t, err := tenant.New(dto.Name, dto.Subdomain)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TenantService) Rename(ctx context.Context, id uuid.UUID, name string) (*tenant.Tenant, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := t.Rename(name); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TenantService) Suspend(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.changeStatus(ctx, id, (*tenant.Tenant).Suspend)
}

func (s *TenantService) Activate(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.changeStatus(ctx, id, (*tenant.Tenant).Activate)
}

func (s *TenantService) changeStatus(ctx context.Context, id uuid.UUID, change func(*tenant.Tenant)) (*tenant.Tenant, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	change(t)
	if err := s.repo.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TenantService) GetByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.repo.FindByID(ctx, id)
}

// Replay rebuilds the tenant from its event stream instead of the
// projection. Useful for verifying the projection or recovering it.
func (s *TenantService) Replay(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	return s.repo.Replay(ctx, id)
}

func (s *TenantService) GetPaginated(ctx context.Context, params *tenant.FindParams) ([]*tenant.Tenant, int64, error) {
	return s.repo.GetPaginated(ctx, params)
}

func (s *TenantService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
