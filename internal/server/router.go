// Package server builds the gin engine and runs the HTTP listener.
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

	healthhandler "phone-otp-auth/backend/internal/health/handler"
	identityhandler "phone-otp-auth/backend/internal/identity/handler"
	"phone-otp-auth/backend/internal/server/middleware"
)

// Deps holds the handlers mounted on the router.
type Deps struct {
	// Auth serves /v1/auth and, when built with a dev OTP store, /dev/otp.
	Auth *identityhandler.AuthServer
	// Tokens verifies bearer access tokens for protected routes.
	Tokens middleware.AccessVerifier
	// Health serves /healthz and /readyz. If nil, a server without checks is used.
	Health *healthhandler.Server
	// Registry receives HTTP metrics and is exposed on /metrics. If nil, metrics are not collected.
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// NewRouter returns the gin engine with recovery, request telemetry and every route registered.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	var metrics *middleware.HTTPMetrics
	if deps.Registry != nil {
		metrics = middleware.NewHTTPMetrics(deps.Registry)
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}
	r.Use(middleware.RequestTelemetry(metrics, deps.Logger))

	health := deps.Health
	if health == nil {
		health = healthhandler.NewServer()
	}
	health.Register(r)

	if deps.Auth != nil {
		deps.Auth.Register(r, middleware.Bearer(deps.Tokens))
	}
	return r
}

// Server wraps http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// New returns a Server listening on addr.
func New(addr string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
