package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/parasol-ai/parasol/store"
)

type usageRecordResponse struct {
	RunID        string `json:"runId"`
	Model        string `json:"model"`
	InputTokens  int32  `json:"inputTokens"`
	OutputTokens int32  `json:"outputTokens"`
	CreatedTs    int64  `json:"createdTs"`
}

type usageSummaryResponse struct {
	Model        string `json:"model"`
	Invocations  int64  `json:"invocations"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
}

func (s *APIV1Service) registerUsageRoutes(g *echo.Group) {
	g.GET("/usage", s.handleListUsage)
	g.GET("/usage/summary", s.handleUsageSummary)
}

// usageFind builds the record filter from query parameters. Records are
// always scoped to the authenticated tenant.
func usageFind(c *echo.Context, tenant *store.Tenant) *store.FindUsageRecord {
	find := &store.FindUsageRecord{TenantID: &tenant.ID}
	if v := c.QueryParam("model"); v != "" {
		find.Model = &v
	}
	if v := c.QueryParam("since"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			since := parsed.Unix()
			find.Since = &since
		} else if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			find.Since = &ts
		}
	}
	if v := c.QueryParam("until"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			until := parsed.Add(24 * time.Hour).Unix()
			find.Until = &until
		} else if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			find.Until = &ts
		}
	}
	return find
}

func (s *APIV1Service) handleListUsage(c *echo.Context) error {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		return err
	}
	records, err := s.Store.ListUsageRecords(c.Request().Context(), usageFind(c, tenant))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]usageRecordResponse, 0, len(records))
	for _, r := range records {
		resp = append(resp, usageRecordResponse{
			RunID:        r.RunID,
			Model:        r.Model,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			CreatedTs:    r.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIV1Service) handleUsageSummary(c *echo.Context) error {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		return err
	}
	summaries, err := s.Store.SummarizeUsage(c.Request().Context(), usageFind(c, tenant))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := make([]usageSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		resp = append(resp, usageSummaryResponse{
			Model:        summary.Model,
			Invocations:  summary.Invocations,
			InputTokens:  summary.InputTokens,
			OutputTokens: summary.OutputTokens,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
