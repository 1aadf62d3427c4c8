package middleware

import (
	"context"
	"time"

	"nodeo/pkg/utils/contextkey"
	"nodeo/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	// Client supplied ids longer than this are replaced.
	maxIDLength = 128
)

// TraceContextMiddleware takes trace and request ids from the request
// headers, or generates them, and makes them visible to handlers (gin keys
// and request context), to the logger and to the client (response headers).
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, id := range []struct {
			header string
			key    contextkey.Key
		}{
			{traceIDHeader, contextkey.TraceID},
			{requestIDHeader, contextkey.RequestID},
		} {
			v := clientID(c.GetHeader(id.header))
			ctx = context.WithValue(ctx, id.key, v)
			c.Set(string(id.key), v)
			c.Header(id.header, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// clientID accepts printable ASCII ids of sane length.
func clientID(v string) string {
	if v == "" || len(v) > maxIDLength {
		return uuid.NewString()
	}
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return uuid.NewString()
		}
	}
	return v
}

// RequestLogger logs every request once it completes. Server errors log at
// error level, client errors at warn.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			fields = append(fields, zap.String("errors", errs.String()))
		}

		ctx := c.Request.Context()
		switch level := statusLevel(status); level {
		case zapcore.ErrorLevel:
			logger.Error(ctx, "request failed", fields...)
		case zapcore.WarnLevel:
			logger.Warn(ctx, "request rejected", fields...)
		default:
			logger.Info(ctx, "request completed", fields...)
		}
	}
}

func statusLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
