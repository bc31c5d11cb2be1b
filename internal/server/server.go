// Package server exposes the credential pool management API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"credpool-go/internal/config"
	"credpool-go/internal/credential"
	"credpool-go/internal/events"
	mw "credpool-go/internal/middleware"
	"credpool-go/internal/runtime"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Server wires the pool and its supporting services behind a Gin engine.
type Server struct {
	cfg   *config.Manager
	pool  *credential.Pool
	hub   *events.Hub
	tasks *runtime.TaskManager
	http  *http.Server
}

// New builds a Server. The task manager is optional; without it the tasks
// route reports an empty list.
func New(cfg *config.Manager, pool *credential.Pool, hub *events.Hub, tasks *runtime.TaskManager) *Server {
	s := &Server{cfg: cfg, pool: pool, hub: hub, tasks: tasks}

	current := cfg.Current()
	if current.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(mw.RequestID())
	engine.Use(mw.RequestLogger())
	engine.Use(mw.Recovery())

	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api")
	api.Use(mw.RateLimiter(current.RequestRatePerSec, current.RequestBurst))
	api.Use(mw.ManagementAuth(func() string { return s.cfg.Current().ManagementKey }))
	s.registerRoutes(api)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", current.Host, current.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the underlying engine; used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is canceled, then drains with a shutdown grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.http.Addr).Info("management API listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.pool.Store().Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
