package logger

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alphagov/pay-connector-sub019/internal/auditcontext"
)

const requestIDHeader = "X-Request-Id"

// MiddlewareConfig tunes the request logging middleware. The zero value is
// usable: requests get an id but are not logged.
type MiddlewareConfig struct {
	Logger *zap.Logger
	// SkipPaths are matched exactly and not logged (health checks, metrics).
	SkipPaths []string
}

// GinMiddleware assigns every request an id, echoes it on the response, and
// logs the request line once the handler finishes. Inbound ids are trusted
// so callers can correlate across services.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		ctx := auditcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if cfg.Logger == nil {
			return
		}
		if _, ok := skip[c.FullPath()]; ok {
			return
		}
		cfg.Logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func newRequestID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf[:])
}
