// Package health runs named readiness checks and exposes them as a
// single aggregate gin endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one named health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Status is the aggregate health report served at /health.
type Status struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Check is a function that performs a single health check.
type Check func() CheckResult

// Checker aggregates named checks into one report.
type Checker struct {
	service string
	version string
	checks  map[string]Check
}

// NewChecker constructs an empty Checker.
func NewChecker(service, version string) *Checker {
	return &Checker{service: service, version: version, checks: make(map[string]Check)}
}

// AddCheck registers a named check.
func (hc *Checker) AddCheck(name string, check Check) {
	hc.checks[name] = check
}

// Run executes every registered check and aggregates the result.
func (hc *Checker) Run() Status {
	status := Status{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult),
	}

	anyUnhealthy, anyDegraded := false, false
	for name, check := range hc.checks {
		result := check()
		status.Checks[name] = result
		switch result.Status {
		case StatusDegraded:
			anyDegraded = true
		case StatusHealthy:
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// Handler serves the aggregate report, returning 503 when unhealthy.
func (hc *Checker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := hc.Run()
		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// Pinger is satisfied by any broker that can verify connectivity, e.g.
// transport.RedisBroker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransportHealthCheck reports the shared pub/sub broker's connectivity.
func TransportHealthCheck(p Pinger) Check {
	return func() CheckResult {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("broker ping failed: %v", err), Latency: time.Since(start).String()}
		}
		return CheckResult{Status: StatusHealthy, Message: "broker reachable", Latency: time.Since(start).String()}
	}
}

// ConfigurationHealthCheck reports degraded when a required setting is
// missing, without failing the process outright.
func ConfigurationHealthCheck(name, value string) Check {
	return func() CheckResult {
		if value == "" {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%s is not configured", name)}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%s configured", name)}
	}
}
