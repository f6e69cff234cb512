// Package statusapi serves the session state view, control commands, the
// candidate websocket and Prometheus metrics over one echo server.
package statusapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/turn"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Controller is the part of the turn controller the API drives.
type Controller interface {
	View() turn.View
	Post(ev turn.Event)
}

type Config struct {
	Addr   string
	WSPath string
	// ControlToken guards command endpoints with a bearer token when set.
	ControlToken string
}

type Server struct {
	cfg      Config
	echo     *echo.Echo
	ctrl     Controller
	logger   *slog.Logger
	draining atomic.Bool
}

type commandRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New builds the router. ws and metrics may be nil.
func New(cfg Config, ctrl Controller, ws http.Handler, metrics http.Handler, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{cfg: cfg, echo: e, ctrl: ctrl, logger: logging.NewComponentLogger(logger, "status_api")}

	e.GET("/healthz", s.health)
	e.GET("/readyz", s.ready)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	if ws != nil {
		e.GET(cfg.WSPath, echo.WrapHandler(ws))
	}

	v1 := e.Group("/v1/session")
	v1.GET("/state", s.state)
	control := v1.Group("/commands")
	if cfg.ControlToken != "" {
		control.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.ControlToken)) == 1, nil
		}))
	}
	control.POST("/:command", s.command)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.logger.Info("status_api_listening", slog.String("addr", s.cfg.Addr))
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SetDraining makes readiness fail so a balancer stops sending traffic.
func (s *Server) SetDraining() { s.draining.Store(true) }

func (s *Server) Shutdown(ctx context.Context) error {
	s.SetDraining()
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) ready(c echo.Context) error {
	if s.draining.Load() {
		return c.String(http.StatusServiceUnavailable, "draining")
	}
	return c.String(http.StatusOK, "ready")
}

func (s *Server) state(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.View())
}

func (s *Server) command(c echo.Context) error {
	if s.draining.Load() {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "draining"})
	}
	var req commandRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
	}
	name := c.Param("command")
	ev, err := turn.ParseCommand(name, req.Text)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	s.logger.Info("status_api_command", slog.String("command", name))
	s.ctrl.Post(ev)
	return c.JSON(http.StatusAccepted, s.ctrl.View())
}
