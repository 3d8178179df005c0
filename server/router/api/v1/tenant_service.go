package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/server/auth"
	"github.com/parasol-ai/parasol/store"
)

type tenantRequest struct {
	ID       string  `json:"id,omitempty"`
	Name     *string `json:"name,omitempty"`
	Plan     *string `json:"plan,omitempty"`
	Config   *string `json:"config,omitempty"`
	Branding *string `json:"branding,omitempty"`
	Limits   *string `json:"limits,omitempty"`
}

type tenantResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SchemaName string `json:"schemaName"`
	Plan       string `json:"plan"`
	Config     string `json:"config"`
	Branding   string `json:"branding"`
	Limits     string `json:"limits"`
	RowStatus  string `json:"rowStatus"`
	CreatedTs  int64  `json:"createdTs"`
	UpdatedTs  int64  `json:"updatedTs"`
}

func toTenantResponse(t *store.Tenant) tenantResponse {
	return tenantResponse{
		ID:         t.ID,
		Name:       t.Name,
		SchemaName: t.SchemaName,
		Plan:       t.Plan,
		Config:     t.Config,
		Branding:   t.Branding,
		Limits:     t.Limits,
		RowStatus:  string(t.RowStatus),
		CreatedTs:  t.CreatedTs,
		UpdatedTs:  t.UpdatedTs,
	}
}

func (s *APIV1Service) registerTenantRoutes(g *echo.Group) {
	g.POST("/tenants", s.handleCreateTenant)
	g.GET("/tenants/:id", s.handleGetTenant)
	g.PATCH("/tenants/:id", s.handleUpdateTenant)
	g.DELETE("/tenants/:id", s.handleArchiveTenant)
	g.POST("/tenants/:id/token", s.handleIssueTenantToken)
}

func (s *APIV1Service) handleCreateTenant(c *echo.Context) error {
	if err := s.requireAdmin(c); err != nil {
		return err
	}
	var req tenantRequest
	if err := c.Bind(&req); err != nil || req.Name == nil || *req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name required")
	}
	create := &store.Tenant{ID: req.ID, Name: *req.Name}
	if req.Plan != nil {
		create.Plan = *req.Plan
	}
	if req.Config != nil {
		create.Config = *req.Config
	}
	if req.Branding != nil {
		create.Branding = *req.Branding
	}
	if req.Limits != nil {
		create.Limits = *req.Limits
	}
	tenant, err := s.Store.CreateTenant(c.Request().Context(), create)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to provision tenant: "+err.Error())
	}
	return c.JSON(http.StatusCreated, toTenantResponse(tenant))
}

func (s *APIV1Service) handleGetTenant(c *echo.Context) error {
	if err := s.requireAdmin(c); err != nil {
		return err
	}
	tenant, err := s.Store.GetTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "tenant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, toTenantResponse(tenant))
}

func (s *APIV1Service) handleUpdateTenant(c *echo.Context) error {
	if err := s.requireAdmin(c); err != nil {
		return err
	}
	var req tenantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tenant, err := s.Store.UpdateTenant(c.Request().Context(), &store.UpdateTenant{
		ID:       c.Param("id"),
		Name:     req.Name,
		Plan:     req.Plan,
		Config:   req.Config,
		Branding: req.Branding,
		Limits:   req.Limits,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Cached clients carry the old configuration.
	s.Registry.PurgeTenant(tenant.ID)
	return c.JSON(http.StatusOK, toTenantResponse(tenant))
}

// handleArchiveTenant soft-deactivates the tenant; the record and its usage
// history are retained.
func (s *APIV1Service) handleArchiveTenant(c *echo.Context) error {
	if err := s.requireAdmin(c); err != nil {
		return err
	}
	tenant, err := s.Store.ArchiveTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.Registry.PurgeTenant(tenant.ID)
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) handleIssueTenantToken(c *echo.Context) error {
	if err := s.requireAdmin(c); err != nil {
		return err
	}
	tenant, err := s.Store.ValidateTenant(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "tenant not found or inactive")
	}
	token, err := auth.GenerateToken(tenant.ID, s.Profile.Secret, 24*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}
