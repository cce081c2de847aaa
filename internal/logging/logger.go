// Package logging provides the structured logger used throughout
// relayhub, built on logrus exactly as the services this module is
// modeled on.
package logging

import (
	"github.com/sirupsen/logrus"

	"relayhub/internal/config"
)

// Logger is a structured logger instance.
type Logger = *logrus.Logger

// Fields represents structured logging fields.
type Fields = logrus.Fields

// NewLogger creates a configured logger with JSON output and a level
// sourced from the LOG_LEVEL environment variable.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger carrying a "service" field on
// every entry.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{name: serviceName})
	return logger
}

// serviceHook stamps the "service" field onto every entry.
type serviceHook struct{ name string }

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.name
	return nil
}
