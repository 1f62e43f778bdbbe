// Package server exposes sync triggers and read endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ledgerSync/internal/lock"
	"ledgerSync/internal/storage"
	"ledgerSync/internal/syncer"
)

// Config holds HTTP server settings.
type Config struct {
	ListenAddress string
	StopTimeout   time.Duration
}

// Server serves the REST API and /metrics.
type Server struct {
	manager  *syncer.Manager
	events   storage.EventStore
	locker   lock.Locker
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	stopTimeout time.Duration
	httpServer  *http.Server
	Router      *gin.Engine
}

// New builds the server and registers its routes. A nil gatherer disables /metrics.
func New(
	cfg Config,
	manager *syncer.Manager,
	events storage.EventStore,
	locker lock.Locker,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	s := &Server{
		manager:     manager,
		events:      events,
		locker:      locker,
		gatherer:    gatherer,
		logger:      logger,
		stopTimeout: cfg.StopTimeout,
		Router:      gin.New(),
	}
	s.Router.Use(gin.Recovery(), s.accessLog())
	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	v1 := s.Router.Group("v1")
	{
		v1.GET("health", s.health)
		v1.GET("sync", s.sync)
		v1.POST("sync", s.sync)
		v1.GET("cursor", s.cursor)
		v1.POST("cursor/reset", s.resetCursor)
		v1.GET("events/latest", s.latestEvents)
		v1.GET("events/name/:name", s.eventsByName)
		v1.GET("events/range", s.eventsByRange)
		v1.GET("events/tx/:hash", s.eventsByTx)
		v1.POST("hash", s.hash)
	}
	if s.gatherer != nil {
		s.Router.GET("metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return <-errCh
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
