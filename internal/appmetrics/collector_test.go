package appmetrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	collector := NewCollector("relayhub", "test", "abc123")

	router := gin.New()
	router.Use(collector.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	gin.New()
	handlerRouter := gin.New()
	handlerRouter.GET("/metrics", collector.Handler())
	handlerRouter.ServeHTTP(metricsRec, metricsReq)

	if metricsRec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint to return 200, got %d", metricsRec.Code)
	}
	if !strings.Contains(metricsRec.Body.String(), "relayhub_http_requests_total") {
		t.Fatalf("expected http_requests_total series in output")
	}
}

func TestHubMetricsRegisterUnderCollector(t *testing.T) {
	collector := NewCollector("relayhub", "test", "abc123")
	hm := NewHubMetrics(collector)
	hm.Connections.Set(3)
	hm.ChannelMembers.WithLabelValues("global").Set(1)
	hm.MessagesSent.WithLabelValues("global", "chat").Inc()
}
