// Package server exposes the dashboard state as a local JSON API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marko-dashboard/internal/dashboard"
	"marko-dashboard/internal/logging"
)

// Server serves the browser-facing API.
type Server struct {
	dash   *dashboard.Dashboard
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the router for d.
func New(d *dashboard.Dashboard, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		dash:   d,
		logger: logging.WithComponent(logger, "server"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())

	(&HealthHandler{Dash: d}).Register(s.engine)
	(&InstanceHandler{Dash: d}).Register(s.engine)
	(&TelemetryHandler{Dash: d}).Register(s.engine)
	(&CatalogHandler{Dash: d}).Register(s.engine)
	(&LogHandler{Dash: d}).Register(s.engine)
	(&HistoryHandler{Dash: d}).Register(s.engine)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))

		start := time.Now()
		c.Next()
		logging.LogAPICall(s.logger, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start), nil)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("API server stopped")
	return nil
}
