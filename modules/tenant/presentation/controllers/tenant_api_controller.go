package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/meridianhq/eventcore/eventstore"
	"github.com/meridianhq/eventcore/modules/tenant/domain/aggregates/tenant"
	"github.com/meridianhq/eventcore/modules/tenant/services"
)

type TenantAPIController struct {
	tenants  *services.TenantService
	basePath string
}

func NewTenantAPIController(tenants *services.TenantService) *TenantAPIController {
	return &TenantAPIController{
		tenants:  tenants,
		basePath: "/tenants",
	}
}

func (c *TenantAPIController) Key() string {
	return c.basePath
}

func (c *TenantAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("/{id}", c.Get).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/{id}/rename", c.Rename).Methods(http.MethodPost)
	router.HandleFunc("/{id}/suspend", c.Suspend).Methods(http.MethodPost)
	router.HandleFunc("/{id}/activate", c.Activate).Methods(http.MethodPost)
	router.HandleFunc("/{id}/replay", c.Replay).Methods(http.MethodGet)
}

type tenantResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Subdomain string    `json:"subdomain"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
}

func toResponse(t *tenant.Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID(),
		Name:      t.Name(),
		Subdomain: t.Subdomain(),
		Status:    string(t.Status()),
		Version:   t.Version(),
	}
}

func (c *TenantAPIController) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	offset := 0
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := c.tenants.GetPaginated(r.Context(), &tenant.FindParams{Limit: limit, Offset: offset})
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "TENANT_INTERNAL", "internal error")
		return
	}

	out := make([]tenantResponse, 0, len(items))
	for _, t := range items {
		out = append(out, toResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func (c *TenantAPIController) Create(w http.ResponseWriter, r *http.Request) {
	var dto tenant.CreateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeAPIError(w, http.StatusBadRequest, "TENANT_INVALID_JSON", "invalid json")
		return
	}

	created, err := c.tenants.Create(r.Context(), &dto)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(created))
}

func (c *TenantAPIController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := c.tenants.GetByID(r.Context(), id)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (c *TenantAPIController) Replay(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := c.tenants.Replay(r.Context(), id)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (c *TenantAPIController) Rename(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "TENANT_INVALID_JSON", "invalid json")
		return
	}

	t, err := c.tenants.Rename(r.Context(), id, body.Name)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (c *TenantAPIController) Suspend(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.tenants.Suspend)
}

func (c *TenantAPIController) Activate(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.tenants.Activate)
}

func (c *TenantAPIController) changeStatus(
	w http.ResponseWriter,
	r *http.Request,
	change func(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error),
) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := change(r.Context(), id)
	if err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

func (c *TenantAPIController) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := c.tenants.Delete(r.Context(), id); err != nil {
		c.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (c *TenantAPIController) writeDomainError(w http.ResponseWriter, err error) {
	var conflict *eventstore.ConcurrencyError
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
	case errors.Is(err, tenant.ErrNameRequired):
		writeAPIError(w, http.StatusUnprocessableEntity, "TENANT_NAME_REQUIRED", "tenant name is required")
	case errors.Is(err, tenant.ErrSubdomainTaken):
		writeAPIError(w, http.StatusConflict, "TENANT_SUBDOMAIN_TAKEN", "subdomain is already taken")
	case errors.As(err, &conflict):
		writeAPIError(w, http.StatusConflict, "TENANT_VERSION_CONFLICT", conflict.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, "TENANT_INTERNAL", "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "TENANT_INVALID_ID", "invalid tenant id")
		return uuid.Nil, false
	}
	return id, true
}
