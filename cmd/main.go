// Package main is the entry point for the UI annotation relay service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/cache"
	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/database"
	"github.com/ui-annotator/backend/internal/handler"
	"github.com/ui-annotator/backend/internal/imageinput"
	"github.com/ui-annotator/backend/internal/metrics"
	"github.com/ui-annotator/backend/internal/middleware"
	"github.com/ui-annotator/backend/internal/storage"
	"github.com/ui-annotator/backend/internal/vision"
)

func main() {
	port := flag.String("port", "", "Server port (overrides PORT env var)")
	flag.Parse()

	if *port != "" {
		os.Setenv("PORT", *port)
	}

	app := fx.New(
		fx.Provide(
			config.New,
			newLogger,
			newNormalizer,
			storage.New,
			vision.New,
			cache.New,
			database.New,
			metrics.New,
			handler.NewHandler,
			newGinEngine,
		),
		fx.Invoke(startServer),
	)

	app.Run()
}

// newLogger creates a new zap logger based on the environment.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newNormalizer(cfg *config.Config) *imageinput.Normalizer {
	return imageinput.New(cfg.MaxImageBytes)
}

// newGinEngine creates and configures a new Gin engine.
func newGinEngine(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.MaxMultipartMemory = cfg.MaxImageBytes
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(logger))
	engine.Use(m.Middleware())
	engine.Use(middleware.CORS(cfg.FrontendURL, logger))
	engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))

	return engine
}

// startServer registers routes and binds the HTTP server to the fx lifecycle.
func startServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	engine *gin.Engine,
	h *handler.Handler,
	m *metrics.Metrics,
	model vision.Model,
	predictions cache.Cache,
	groundTruth database.Repository,
) {
	logger.Info("Starting service",
		zap.String("port", cfg.ServerPort),
		zap.String("environment", cfg.Environment),
		zap.String("vision_model", model.Name()),
		zap.Bool("cloudinary", cfg.HasCloudinary()),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "ui-annotator",
			"model":   model.Name(),
		})
	})
	engine.GET("/metrics", gin.WrapH(m.Handler()))

	h.RegisterRoutes(engine.Group("/annotate"))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("Server starting", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Server shutting down")

			err := server.Shutdown(ctx)
			groundTruth.Close()
			_ = predictions.Close()
			_ = logger.Sync()

			return err
		},
	})
}
