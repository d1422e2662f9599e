package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yomuko/yomuko/internal/config"
	"github.com/yomuko/yomuko/internal/host"
	"github.com/yomuko/yomuko/internal/logging"
	"github.com/yomuko/yomuko/internal/monitoring"
)

// Server wraps the HTTP router and its dependencies.
type Server struct {
	router *gin.Engine
	cfg    config.ServerConfig
	log    *logging.Logger
}

// New creates a server bound to the given host.
func New(cfg *config.Config, h *host.Host, metrics *monitoring.Metrics, log *logging.Logger) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(RequestMetrics(metrics))
	router.Use(CORS(DefaultCORSConfig()))

	handlers := NewHandlers(h, cfg.Sandbox.CallTimeout, log)
	registerRoutes(router, handlers)

	return &Server{router: router, cfg: cfg.Server, log: log}
}

func registerRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/search", h.SearchAll)

	router.GET("/extensions", h.ListExtensions)
	router.POST("/extensions", h.LoadExtension)
	router.DELETE("/extensions/:id", h.UnloadExtension)

	router.GET("/extensions/:id/search", h.Search)
	router.GET("/extensions/:id/latest", h.Latest)
	router.GET("/extensions/:id/popular", h.Popular)
	router.GET("/extensions/:id/detail/*contentId", h.Detail)
	router.GET("/extensions/:id/sources/*contentId", h.Sources)
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.cfg.Host + ":" + s.cfg.Port
	s.log.Info("starting http server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
