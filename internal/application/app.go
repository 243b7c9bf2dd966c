package application

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/tiergate/tiergate/internal/infrastructure/cache"
	"github.com/tiergate/tiergate/internal/infrastructure/classifier"
	"github.com/tiergate/tiergate/internal/infrastructure/config"
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/anthropic" // register anthropic adapter factory
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/azure"     // register azure adapter factory
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/cohere"    // register cohere adapter factory
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/gemini"    // register gemini adapter factory
	_ "github.com/tiergate/tiergate/internal/infrastructure/provider/openai"    // register openai adapter factory
	"github.com/tiergate/tiergate/internal/infrastructure/usage"
	httpServer "github.com/tiergate/tiergate/internal/interfaces/http"
	"github.com/tiergate/tiergate/internal/interfaces/http/handlers"
	"github.com/tiergate/tiergate/pkg/safego"
)

// App is the dependency-injection container: it wires config, logger,
// cache, classifier, usage aggregator and the HTTP server together.
type App struct {
	config *config.Config
	logger *zap.Logger

	cache      cache.Cache
	classifier *classifier.Client
	usage      *usage.Aggregator
	server     *httpServer.Server

	warmupCancel context.CancelFunc
}

// NewApp builds the full gateway from a loaded config.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	app.usage = usage.New(logger)
	app.cache = cache.New(cfg.Cache, logger)

	if cfg.Classifier.Enabled {
		app.classifier = classifier.New(cfg.Classifier, logger)
	}

	// handlers.Classifier is an interface; a typed nil pointer must not
	// leak into it when the classifier is disabled.
	var cls handlers.Classifier
	if app.classifier != nil {
		cls = app.classifier
	}

	chatHandler := handlers.NewChatHandler(cfg, cls, app.cache, app.usage, logger)
	adminHandler := handlers.NewAdminHandler(cfg, app.usage, logger)
	app.server = httpServer.NewServer(cfg, chatHandler, adminHandler, logger)

	return app, nil
}

// Start launches the HTTP server and, when configured, the classifier
// warmup loop.
func (a *App) Start(ctx context.Context) error {
	if a.classifier != nil && a.config.Classifier.Warmup {
		wctx, cancel := context.WithCancel(context.Background())
		a.warmupCancel = cancel
		safego.Go(a.logger, "classifier-warmup", func() {
			a.classifier.RunWarmup(wctx)
		})
	}

	return a.server.Start(ctx)
}

// Stop shuts the server down gracefully and releases resources.
func (a *App) Stop(ctx context.Context) error {
	if a.warmupCancel != nil {
		a.warmupCancel()
	}

	err := a.server.Stop(ctx)

	if closer, ok := a.cache.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			a.logger.Warn("cache close failed", zap.Error(cerr))
		}
	}

	return err
}
