// Package server wires the gin engine and *http.Server lifecycle
// shared by every HTTP/WebSocket-serving binary in this module.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"relayhub/internal/appmetrics"
	"relayhub/internal/config"
	"relayhub/internal/health"
	"relayhub/internal/logging"
	"relayhub/internal/middleware"
)

// Config configures the HTTP server.
type Config struct {
	Port         string
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane server defaults, reading PORT from the
// environment.
func DefaultConfig(serviceName, defaultPort string) Config {
	return Config{
		Port:         config.GetEnv("PORT", defaultPort),
		ServiceName:  serviceName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived; no fixed write deadline at the server level.
		IdleTimeout:  120 * time.Second,
	}
}

// Start serves router until SIGINT/SIGTERM, then shuts down gracefully.
func Start(cfg Config, router *gin.Engine, logger logging.Logger) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.WithFields(logging.Fields{
			"port":    cfg.Port,
			"service": cfg.ServiceName,
		}).Info("starting HTTP server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.WithField("service", cfg.ServiceName).Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.WithField("service", cfg.ServiceName).Info("server stopped")
	return nil
}

// SetupRouter builds a gin engine with the standard middleware stack and
// monitoring endpoints wired in.
func SetupRouter(logger logging.Logger, checker *health.Checker, metrics *appmetrics.Collector) *gin.Engine {
	if config.GetEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	middleware.SetupCommon(router, logger)
	router.Use(metrics.Middleware())

	router.GET("/health", checker.Handler())
	router.GET("/metrics", metrics.Handler())

	return router
}
