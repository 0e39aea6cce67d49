// Package server assembles the HTTP server: echo instance, middleware, the v1
// API surface, and background runners.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tinychat/tinychat/internal/profile"
	"github.com/tinychat/tinychat/plugin/ai"
	"github.com/tinychat/tinychat/server/generation"
	apiv1 "github.com/tinychat/tinychat/server/router/api/v1"
	"github.com/tinychat/tinychat/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	apiService *apiv1.APIV1Service
}

func NewServer(ctx context.Context, p *profile.Profile, st *store.Store, model ai.ModelService, opts generation.Options) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request", "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	apiService := apiv1.NewAPIV1Service(p, st, model, opts)
	apiService.RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return &Server{
		Profile:    p,
		Store:      st,
		echoServer: e,
		apiService: apiService,
	}, nil
}

// Start serves HTTP and runs the embedding backfill loop until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.apiService.EmbeddingJob.Run(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server listening", "address", address, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server stopped")
}
