package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/config"
	"github.com/tiergate/tiergate/internal/interfaces/http/handlers"
	"github.com/tiergate/tiergate/pkg/errs"
)

// Server wraps the gin router in an http.Server with graceful shutdown.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer wires the routes and middleware.
func NewServer(cfg *config.Config, chat *handlers.ChatHandler, admin *handlers.AdminHandler, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("handler panic", zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": string(errs.KindInternal)})
	}))
	router.Use(ginLogger(logger))
	router.Use(authMiddleware(cfg))

	router.POST("/v1/chat/completions", chat.HandleChatCompletions)
	router.GET("/v1/models", admin.HandleModels)
	router.GET("/health", admin.HandleHealth)
	router.GET("/usage", admin.HandleUsage)
	router.POST("/usage/reset", admin.HandleUsageReset)
	router.GET("/dashboard", admin.HandleDashboard)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
