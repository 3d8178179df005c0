// Package server hosts the HTTP server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/internal/agent"
	"github.com/parasol-ai/parasol/internal/docqa"
	"github.com/parasol-ai/parasol/internal/llm"
	"github.com/parasol-ai/parasol/internal/profile"
	apiv1 "github.com/parasol-ai/parasol/server/router/api/v1"
	"github.com/parasol-ai/parasol/store"
)

type Server struct {
	Profile *profile.Profile

	echo       *echo.Echo
	httpServer *http.Server
}

func NewServer(p *profile.Profile, s *store.Store, registry *llm.Registry, factory *agent.Factory, qa *docqa.Assembly) *Server {
	e := echo.New()

	e.GET("/healthz", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1Service := apiv1.NewAPIV1Service(p, s, registry, factory, qa)
	apiV1Service.Register(e)

	addr := fmt.Sprintf("%s:%d", p.Addr, p.Port)
	return &Server{
		Profile: p,
		echo:    e,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("server listening", "addr", s.httpServer.Addr, "mode", s.Profile.Mode)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
