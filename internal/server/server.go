package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robinochieng/deepresearch/config"
	core "github.com/robinochieng/deepresearch/internal/agent/core"
	"github.com/robinochieng/deepresearch/internal/mail"
)

// Server exposes the research pipeline over HTTP.
type Server struct {
	echo    *echo.Echo
	cfg     *config.Config
	orch    *core.Orchestrator
	limiter *mail.RateLimiter
	logger  *log.Logger
}

// New builds the HTTP server and registers all routes.
func New(cfg *config.Config, orch *core.Orchestrator, limiter *mail.RateLimiter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &Server{
		echo:    e,
		cfg:     cfg,
		orch:    orch,
		limiter: limiter,
		logger:  baseLogger,
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	rh := &ResearchHandler{Orch: orch, Limiter: limiter}
	rh.Register(api)

	return s
}

// Start listens on the configured address and blocks.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Address
	}
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
