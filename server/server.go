// Package server adapts HTTP transport onto the webhook pipeline and the
// dead-letter queue's operator endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/coinhaven/depositd/core"
	"github.com/coinhaven/depositd/deadletter"
	"github.com/coinhaven/depositd/webhook"
)

// Ingress is the webhook pipeline surface the server dispatches into.
type Ingress interface {
	Handle(ctx context.Context, req webhook.Request) webhook.Response
	Counters() *webhook.Counters
}

// RetryService exposes the dead-letter operations behind the operator
// endpoints.
type RetryService interface {
	RetryAll(ctx context.Context) ([]deadletter.RetryResult, error)
	Stats(ctx context.Context) (core.DeadLetterStats, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	cfg     core.ServerConfig
	ingress Ingress
	retries RetryService
	db      Pinger
	logger  core.Logger

	router     *gin.Engine
	httpServer *http.Server
}

func New(cfg core.ServerConfig, ingress Ingress, retries RetryService, db Pinger, logger core.Logger) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		ingress: ingress,
		retries: retries,
		db:      db,
		logger:  glog.Ensure(logger),
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s, nil
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.POST("/", s.handleWebhook)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/retry-dead-letter", s.handleRetryDeadLetter)
	s.router.GET("/dead-letter-stats", s.handleDeadLetterStats)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Host + ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.logger.Info("webhook server listening", "addr", s.httpServer.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
