package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LD-Reborn/embeddingsearch/internal/config"
	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/search"
)

// Server is the HTTP facade over the search service.
type Server struct {
	config  *config.APIConfig
	service *search.Service
	db      *database.Manager
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.APIConfig, service *search.Service, db *database.Manager, logger *slog.Logger) *Server {
	return &Server{
		config:  cfg,
		service: service,
		db:      db,
		logger:  logger,
	}
}

// Start starts the API server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "address", s.config.Listen)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRouter configures the Gin router with middleware and routes.
func (s *Server) setupRouter() *gin.Engine {
	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(s.loggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())
	router.Use(s.securityMiddleware())
	router.Use(s.requestSizeMiddleware())

	if s.config.RateLimit.Enabled {
		router.Use(s.rateLimitMiddleware())
	}

	// Health check endpoint (no key required)
	router.GET("/health", s.healthHandler)

	guarded := router.Group("/")
	guarded.Use(s.apiKeyMiddleware())
	{
		guarded.GET("/searchdomain", s.searchdomainHandler)
		guarded.POST("/entity/index", s.entityIndexHandler)
		guarded.GET("/entity/query", s.entityQueryHandler)
		guarded.GET("/entity/list", s.entityListHandler)
		guarded.DELETE("/entity", s.entityDeleteHandler)
	}

	return router
}
