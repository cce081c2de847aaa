package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCheckerAggregatesHealthy(t *testing.T) {
	hc := NewChecker("relayhub", "test")
	hc.AddCheck("a", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("b", func() CheckResult { return CheckResult{Status: StatusHealthy} })

	status := hc.Run()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}
}

func TestCheckerUnhealthyDominates(t *testing.T) {
	hc := NewChecker("relayhub", "test")
	hc.AddCheck("a", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("b", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })
	hc.AddCheck("c", func() CheckResult { return CheckResult{Status: StatusDegraded} })

	status := hc.Run()
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy to dominate, got %s", status.Status)
	}
}

func TestHandlerReturns503WhenUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewChecker("relayhub", "test")
	hc.AddCheck("a", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })

	router := gin.New()
	router.GET("/health", hc.Handler())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestConfigurationHealthCheckDegradedWhenEmpty(t *testing.T) {
	result := ConfigurationHealthCheck("JWT_SECRET", "")()
	if result.Status != StatusDegraded {
		t.Fatalf("expected degraded for empty config, got %s", result.Status)
	}
}

func TestConfigurationHealthCheckHealthyWhenSet(t *testing.T) {
	result := ConfigurationHealthCheck("JWT_SECRET", "s3cr3t")()
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy for set config, got %s", result.Status)
	}
}
