// Package v1 exposes the HTTP API surface.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/agent"
	"github.com/parasol-ai/parasol/internal/docqa"
	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/internal/profile"
	"github.com/parasol-ai/parasol/server/auth"
	"github.com/parasol-ai/parasol/store"
)

// APIV1Service carries the dependencies of the /api/v1 handlers.
type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Registry *llm.Registry
	Factory  *agent.Factory
	DocQA    *docqa.Assembly

	authenticator *auth.Authenticator
}

func NewAPIV1Service(p *profile.Profile, s *store.Store, registry *llm.Registry, factory *agent.Factory, qa *docqa.Assembly) *APIV1Service {
	return &APIV1Service{
		Profile:       p,
		Store:         s,
		Registry:      registry,
		Factory:       factory,
		DocQA:         qa,
		authenticator: auth.NewAuthenticator(s, p.Secret, p.IsDev()),
	}
}

// Register mounts all v1 routes.
func (s *APIV1Service) Register(e *echo.Echo) {
	g := e.Group("/api/v1")
	s.registerAgentRoutes(g)
	s.registerKnowledgeRoutes(g)
	s.registerUsageRoutes(g)
	s.registerTenantRoutes(g)
}

// resolveTenant authenticates the request and returns the active tenant.
// TenantNotFound and credential failures are mapped to the error taxonomy
// before any model call can be attempted.
func (s *APIV1Service) resolveTenant(c *echo.Context) (*store.Tenant, error) {
	tenant, err := s.authenticator.AuthenticateTenant(
		c.Request().Context(),
		c.Request().Header.Get("Authorization"),
		c.Request().Header.Get("X-Tenant-ID"),
	)
	if err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "tenant not found or inactive")
		}
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	return tenant, nil
}

// requireAdmin guards the tenant provisioning endpoints.
func (s *APIV1Service) requireAdmin(c *echo.Context) error {
	if s.Profile.AdminToken == "" {
		if s.Profile.IsDev() {
			return nil
		}
		return echo.NewHTTPError(http.StatusForbidden, "admin API disabled")
	}
	if c.Request().Header.Get("X-Admin-Token") != s.Profile.AdminToken {
		return echo.NewHTTPError(http.StatusForbidden, "admin token required")
	}
	return nil
}
