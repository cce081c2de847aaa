package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"relayhub/internal/logging"
)

// SetupCommon registers the standard middleware stack on r.
func SetupCommon(r *gin.Engine, logger logging.Logger) {
	r.Use(RequestID())
	r.Use(Logging(logger))
	r.Use(Recovery(logger))
	r.Use(CORS())
}

// GetRequestID reads the per-request id stamped by RequestID.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if strID, ok := id.(string); ok {
			return strID
		}
	}
	return ""
}

// GetContextLogger returns a logger entry carrying this request's context.
func GetContextLogger(c *gin.Context, logger logging.Logger) *logrus.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
	})
}
