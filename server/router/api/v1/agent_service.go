package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/parasol-ai/parasol/internal/agent"
)

type agentQueryRequest struct {
	Query   string              `json:"query"`
	Domain  string              `json:"domain"`
	Model   string              `json:"model,omitempty"`
	Context *agent.QueryContext `json:"context,omitempty"`
}

type agentQueryResponse struct {
	Response string            `json:"response"`
	Metadata map[string]string `json:"metadata"`
}

func (s *APIV1Service) registerAgentRoutes(g *echo.Group) {
	g.POST("/agents/query", s.handleAgentQuery)
}

// handleAgentQuery resolves the tenant, assembles its agent for the
// requested domain and runs the query. Any construction or execution
// failure surfaces as a generic service error with a descriptive message.
func (s *APIV1Service) handleAgentQuery(c *echo.Context) error {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		return err
	}

	var req agentQueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if strings.TrimSpace(req.Domain) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain required")
	}

	ctx := c.Request().Context()
	executable, err := s.Factory.CreateAgentForModel(ctx, tenant, req.Domain, req.Model)
	if err != nil {
		slog.Error("agent construction failed", "tenant_id", tenant.ID, "domain", req.Domain, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process query: "+err.Error())
	}

	answer, err := s.Factory.RunAgent(ctx, executable, req.Query, req.Context)
	if err != nil {
		slog.Error("agent execution failed", "tenant_id", tenant.ID, "domain", req.Domain, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process query: "+err.Error())
	}

	return c.JSON(http.StatusOK, agentQueryResponse{
		Response: answer,
		Metadata: map[string]string{
			"domain":   req.Domain,
			"tenantId": tenant.ID,
		},
	})
}
