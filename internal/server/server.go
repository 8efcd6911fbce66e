// Package server is the HTTP transport over the engine facade.
//
// The server is a thin collaborator: it parses requests, resolves the
// auth context, calls the engine, and renders the response envelope.
// All business rules live behind the facade.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/auth"
	"github.com/flowlexi/patchvec/internal/config"
	"github.com/flowlexi/patchvec/internal/engine"
)

// Version is the server version reported by health endpoints.
const Version = "0.6.0"

// authContextKey stores the resolved auth.Context on the echo context.
const authContextKey = "patchvec.auth"

// Server exposes the HTTP API.
type Server struct {
	echo   *echo.Echo
	engine *engine.Engine
	authn  *auth.Authenticator
	logger *zap.Logger
	cfg    config.ServerConfig
}

// New creates the HTTP server.
func New(eng *engine.Engine, authn *auth.Authenticator, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if authn == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: eng,
		authn:  authn,
		logger: logger,
		cfg:    cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	// Health and metrics stay outside auth.
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/health/live", s.handleHealthLive)
	s.echo.GET("/health/ready", s.handleHealthReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("", s.authMiddleware)
	api.GET("/collections/:tenant", s.handleListCollections)
	api.POST("/collections/:tenant/:collection", s.handleCreateCollection)
	api.DELETE("/collections/:tenant/:collection", s.handleDeleteCollection)
	api.PUT("/collections/:tenant/:collection", s.handleRenameCollection)
	api.POST("/collections/:tenant/:collection/documents", s.handleIngest)
	api.DELETE("/collections/:tenant/:collection/documents/:docid", s.handleDeleteDocument)
	api.GET("/collections/:tenant/:collection/search", s.handleSearchGET)
	api.POST("/collections/:tenant/:collection/search", s.handleSearchPOST)
}

// authMiddleware resolves the bearer token once per request.
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authCtx, err := s.authn.Resolve(c.Request().Header.Get("Authorization"))
		if err != nil {
			return s.renderError(c, err)
		}
		c.Set(authContextKey, authCtx)
		return next(c)
	}
}

// authorize checks the resolved context against the tenant in the path.
func (s *Server) authorize(c echo.Context, tenant string) error {
	authCtx, ok := c.Get(authContextKey).(auth.Context)
	if !ok {
		return apperr.Unauthorized("missing auth context")
	}
	if !authCtx.Authorized(tenant) {
		return apperr.Forbidden("key is not valid for tenant %s", tenant)
	}
	return nil
}

// renderError maps a structured error onto the envelope and status.
func (s *Server) renderError(c echo.Context, err error) error {
	structured := apperr.From(err)
	if structured.Code == apperr.CodeInternal {
		s.logger.Error("internal error",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err),
		)
	}
	return c.JSON(apperr.HTTPStatus(structured.Code), ErrorResponse{
		OK:      false,
		Code:    string(structured.Code),
		Error:   structured.Message,
		Details: structured.Details,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	ready := s.readiness()
	status := "ready"
	if !ready.OK {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{OK: ready.OK, Status: status, Version: Version})
}

func (s *Server) handleHealthLive(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{OK: true, Status: "live", Version: Version})
}

func (s *Server) handleHealthReady(c echo.Context) error {
	ready := s.readiness()
	status := http.StatusOK
	if !ready.OK {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, ready)
}

// readiness probes that the data directory is writable.
func (s *Server) readiness() ReadinessResponse {
	resp := ReadinessResponse{
		Version: Version,
		DataDir: s.engine.DataDir(),
	}
	resp.Writable = probeWritable(s.engine.DataDir())
	resp.OK = resp.Writable
	if resp.OK {
		resp.Status = "ready"
	} else {
		resp.Status = "degraded"
	}
	return resp
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
