// Package handler serves liveness and readiness probes for Kubernetes, load balancers and CI.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger checks that a dependency is reachable (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine can evaluate (e.g. OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// PingerCheck adapts a Pinger.
func PingerCheck(name string, p Pinger) Check {
	return Check{Name: name, Run: p.PingContext}
}

// PolicyCheck adapts a PolicyChecker.
func PolicyCheck(name string, p PolicyChecker) Check {
	return Check{Name: name, Run: p.HealthCheck}
}

// Server answers /healthz and /readyz.
type Server struct {
	checks  []Check
	timeout time.Duration
}

// NewServer returns a health server. Checks with a nil Run are skipped.
func NewServer(checks ...Check) *Server {
	s := &Server{timeout: defaultCheckTimeout}
	for _, c := range checks {
		if c.Run != nil {
			s.checks = append(s.checks, c)
		}
	}
	return s
}

// Register mounts the probes on r.
func (s *Server) Register(r gin.IRouter) {
	r.GET("/healthz", s.Live)
	r.GET("/readyz", s.Ready)
}

// Live reports that the process is serving.
func (s *Server) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every check with a shared timeout. Any failure answers 503 naming the failed checks.
func (s *Server) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()
	results := make(map[string]string, len(s.checks))
	ready := true
	for _, chk := range s.checks {
		if err := chk.Run(ctx); err != nil {
			results[chk.Name] = err.Error()
			ready = false
			continue
		}
		results[chk.Name] = "ok"
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": results})
}
