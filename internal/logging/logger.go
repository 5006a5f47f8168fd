// Package logging wraps logrus with the federation's field conventions.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Logger tagged with the owning service/site name.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for service at the given level ("debug", "info",
// "warn", "error"; default "info") and format ("json" or "text"; default
// "json").
func New(service, level, format string) *Logger {
	log := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Logger: log, service: service}
}

// NewFromEnv creates a Logger for service using LOG_LEVEL/LOG_FORMAT
// environment variables (default info/json).
func NewFromEnv(service string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns an Entry tagged with the owning service and, when
// present in ctx, a trace id and site id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.WithField("service", l.service)
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if siteID, ok := ctx.Value(siteIDKey{}).(string); ok && siteID != "" {
		entry = entry.WithField("site_id", siteID)
	}
	return entry
}

type traceIDKey struct{}
type siteIDKey struct{}

// WithTraceID attaches a trace id to ctx for later retrieval by WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// WithSiteID attaches the local site id to ctx for later retrieval by
// WithContext.
func WithSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, siteIDKey{}, siteID)
}
