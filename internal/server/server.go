package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/handler"
	"flag-classifier/internal/middleware"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/service"
	"flag-classifier/internal/session"
	"flag-classifier/internal/taxonomy"
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Catalog      *catalog.Catalog
	Resolver     *resolver.Resolver
	Taxonomy     *taxonomy.Taxonomy
	Store        classification.Store
	Reader       classification.Reader
	Auth         service.AuthService
	Positions    session.PositionStore
	Gatherer     prometheus.Gatherer
	AuthRequired bool
	Development  bool
}

type Server struct {
	router *gin.Engine
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	if !deps.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	s := &Server{
		router: router,
		deps:   deps,
		logger: logger,
	}

	// Setup routes
	s.setupRoutes()

	return s
}

// Handler returns the router for use in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	catalogHandler := handler.NewCatalogHandler(s.deps.Catalog, s.deps.Resolver, s.deps.Taxonomy, s.logger)
	classificationHandler := handler.NewClassificationHandler(s.deps.Store, s.deps.Reader, s.logger)
	authHandler := handler.NewAuthHandler(s.deps.Auth, s.deps.Positions, s.deps.Catalog, s.logger)
	positionHandler := handler.NewPositionHandler(s.deps.Positions, s.deps.Catalog, s.logger)

	identity := middleware.NewIdentityProvider(s.deps.Auth)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "flag-classifier",
			"images":  s.deps.Catalog.Len(),
		})
	})

	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Public routes
	public := s.router.Group("/api")
	public.Use(middleware.Authenticate(identity, false, s.logger))
	{
		public.GET("/images", catalogHandler.GetImages)
		public.GET("/images/resolve", catalogHandler.ResolveImage)
		public.GET("/taxonomy", catalogHandler.GetTaxonomy)
		public.GET("/current-user", authHandler.CurrentUser)

		public.POST("/auth/register", authHandler.Register)
		public.POST("/auth/login", authHandler.Login)
	}

	// Routes that record or reveal judgments; tokens are mandatory when configured
	protected := s.router.Group("/api")
	protected.Use(middleware.Authenticate(identity, s.deps.AuthRequired, s.logger))
	{
		protected.GET("/classifications", classificationHandler.GetClassifications)
		protected.GET("/classifications/stats", classificationHandler.GetStats)
		protected.GET("/classifications/:imageId/current", classificationHandler.GetCurrent)
		protected.POST("/classifications", classificationHandler.PostClassification)
		protected.GET("/export/csv", classificationHandler.ExportCSV)

		protected.GET("/session/position", positionHandler.GetPosition)
		protected.PUT("/session/position", positionHandler.PutPosition)
		protected.POST("/auth/logout", authHandler.Logout)
	}
}
