package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/pkg/errs"
)

// ginLogger logs one line per request with latency and status.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// authMiddleware gates every endpoint behind the router API key. An
// empty key disables the gate.
func authMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.RouterAPIKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token != cfg.RouterAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(errs.KindUnauthorized)})
			return
		}
		c.Next()
	}
}
