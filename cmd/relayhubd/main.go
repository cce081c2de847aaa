// Command relayhubd runs the WebSocket pub/sub hub as a standalone
// HTTP service.
package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"relayhub/internal/appmetrics"
	"relayhub/internal/config"
	"relayhub/internal/health"
	"relayhub/internal/hub"
	"relayhub/internal/identify"
	"relayhub/internal/logging"
	"relayhub/internal/server"
	"relayhub/internal/transport"
)

const version = "0.1.0"

func main() {
	logger := logging.NewLoggerWithService("relayhubd")
	config.LoadEnv(logger)

	logger.Info("starting relayhubd")

	jwtSecret := []byte(config.GetEnv("JWT_SECRET", ""))
	resolver := identify.NewResolver(jwtSecret)

	broker, closeBroker := buildBroker(logger)
	defer closeBroker()

	h := hub.New(logger, hub.Options{Debug: config.GetEnvBool("HUB_DEBUG", false)})
	h.SetTransportServer(broker)

	metricsCollector := appmetrics.NewCollector("relayhub", version, "")
	hubMetrics := appmetrics.NewHubMetrics(metricsCollector)
	go reportHubMetricsPeriodically(h, hubMetrics, 10*time.Second)

	checker := health.NewChecker("relayhub", version)
	checker.AddCheck("jwt_secret", health.ConfigurationHealthCheck("JWT_SECRET", string(jwtSecret)))
	if pinger, ok := broker.(health.Pinger); ok {
		checker.AddCheck("broker", health.TransportHealthCheck(pinger))
	}

	router := server.SetupRouter(logger, checker, metricsCollector)
	router.GET("/ws", wsHandler(h, broker, resolver, logger))
	router.GET("/stats", statsHandler(h))

	cfg := server.DefaultConfig("relayhub", "8090")
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

func buildBroker(logger logging.Logger) (transport.Broker, func()) {
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	if redisAddr == "" {
		logger.Info("no REDIS_ADDR configured, using in-process broker")
		b := transport.NewLocalBroker()
		return b, func() {}
	}

	logger.WithField("addr", redisAddr).Info("using Redis-backed broker")
	client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	b := transport.NewRedisBroker(client, logger)
	return b, func() { _ = b.Close() }
}

func wsHandler(h *hub.Hub, broker transport.Broker, resolver *identify.Resolver, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := resolver.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		conn, err := transport.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).Error("websocket upgrade failed")
			return
		}

		wsConn := transport.NewWSConn(conn, broker, logger)
		cl, _ := h.OnOpen(identity, wsConn)

		go wsConn.WritePump()
		go wsConn.ReadPump(
			func(raw string) { h.OnMessage(cl, raw) },
			func(code int, reason string) { h.OnClose(cl, code, reason) },
		)
	}
}

// statsHandler exposes the hub's point-in-time occupancy: client count
// and per-channel membership, for operational visibility alongside
// /health and /metrics.
func statsHandler(h *hub.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, h.GetStats())
	}
}

func reportHubMetricsPeriodically(h *hub.Hub, m *appmetrics.HubMetrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		stats := h.GetStats()
		m.Connections.Set(float64(stats.ClientCount))
		for id, size := range stats.ChannelSizes {
			m.ChannelMembers.WithLabelValues(id).Set(float64(size))
		}
	}
}
