package v1

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/docqa"
	"github.com/parasol-ai/parasol/plugin/vectorstore"
)

type createKnowledgeBaseRequest struct {
	Documents  []docqa.Document `json:"documents"`
	Collection string           `json:"collection,omitempty"`
}

type createKnowledgeBaseResponse struct {
	CollectionID string `json:"collectionId"`
}

type knowledgeQueryRequest struct {
	CollectionID string          `json:"collectionId,omitempty"`
	Query        string          `json:"query"`
	History      []docqa.Message `json:"history,omitempty"`
}

type knowledgeQueryResponse struct {
	Answer string `json:"answer"`
}

func (s *APIV1Service) registerKnowledgeRoutes(g *echo.Group) {
	g.POST("/knowledge/collections", s.handleCreateKnowledgeBase)
	g.POST("/knowledge/query", s.handleKnowledgeQuery)
}

func (s *APIV1Service) handleCreateKnowledgeBase(c *echo.Context) error {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		return err
	}
	var req createKnowledgeBaseRequest
	if err := c.Bind(&req); err != nil || len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents required")
	}

	collectionID, err := s.DocQA.CreateKnowledgeBase(c.Request().Context(), tenant, req.Documents, req.Collection)
	if err != nil {
		if errors.Is(err, vectorstore.ErrForbidden) {
			return echo.NewHTTPError(http.StatusForbidden, "collection belongs to another tenant")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create knowledge base: "+err.Error())
	}
	return c.JSON(http.StatusCreated, createKnowledgeBaseResponse{CollectionID: collectionID})
}

func (s *APIV1Service) handleKnowledgeQuery(c *echo.Context) error {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		return err
	}
	var req knowledgeQueryRequest
	if err := c.Bind(&req); err != nil || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	answer, err := s.DocQA.QueryDocuments(c.Request().Context(), tenant, req.CollectionID, req.Query, req.History)
	if err != nil {
		if errors.Is(err, vectorstore.ErrForbidden) {
			return echo.NewHTTPError(http.StatusForbidden, "collection belongs to another tenant")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to answer query: "+err.Error())
	}
	return c.JSON(http.StatusOK, knowledgeQueryResponse{Answer: answer})
}
