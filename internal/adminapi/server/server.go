// filename: internal/adminapi/server/server.go
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ndrsec/ndrsec/internal/adminapi/routes"
	"github.com/ndrsec/ndrsec/internal/common/config"
	"github.com/ndrsec/ndrsec/internal/common/logging"
	tlsconf "github.com/ndrsec/ndrsec/internal/common/tls"
	"github.com/ndrsec/ndrsec/internal/correlator"
)

// Server представляет административный HTTP сервер коррелятора // v1.0
type Server struct {
	config  config.ServerConfig
	logger  *logging.Logger
	service *correlator.Service
	router  *gin.Engine
	server  *http.Server
}

// NewServer создает новый HTTP сервер // v1.0
func NewServer(cfg config.ServerConfig, service *correlator.Service, logger *logging.Logger, logLevel string) *Server {
	// Устанавливаем уровень логирования Gin
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Добавляем middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())

	server := &Server{
		config:  cfg,
		logger:  logger,
		service: service,
		router:  router,
	}

	// Настраиваем роуты
	server.setupRoutes()

	// Создаем HTTP сервер
	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

// setupRoutes настраивает роуты API // v1.0
func (s *Server) setupRoutes() {
	// Создаем обработчики
	healthHandler := routes.NewHealthHandler(s.service, s.logger)
	rulesHandler := routes.NewRulesHandler(s.service, s.logger)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Health endpoints
		v1.GET("/health", healthHandler.HealthCheck)
		v1.GET("/health/ready", healthHandler.ReadinessCheck)
		v1.GET("/health/live", healthHandler.LivenessCheck)
		v1.GET("/stats", healthHandler.Stats)

		// Rules endpoints
		rules := v1.Group("/rules")
		{
			rules.GET("", rulesHandler.GetRules)
			rules.POST("", rulesHandler.UpsertRule)
			rules.POST("/validate", rulesHandler.ValidateRule)
			rules.POST("/reload", rulesHandler.ReloadRules)
			rules.GET("/:id", rulesHandler.GetRuleByID)
			rules.GET("/:id/stats", rulesHandler.GetRuleStats)
			rules.PUT("/:id/disable", rulesHandler.DisableRule)
		}
	}

	// Метрики Prometheus
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		s.service.PrometheusRegistry(),
		promhttp.HandlerOpts{},
	)))

	// Root endpoint
	s.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   "NDRSec Correlator",
			"version":   "1.0.0",
			"status":    "running",
			"timestamp": time.Now().Format(time.RFC3339),
			"endpoints": gin.H{
				"health":  "/api/v1/health",
				"stats":   "/api/v1/stats",
				"rules":   "/api/v1/rules",
				"metrics": "/metrics",
			},
		})
	})

	// 404 handler
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Endpoint not found",
			"message":   fmt.Sprintf("Method %s %s not found", c.Request.Method, c.Request.URL.Path),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}

// Start запускает HTTP сервер // v1.0
func (s *Server) Start() error {
	s.logger.Logger.WithFields(map[string]interface{}{
		"host": s.config.Host,
		"port": s.config.Port,
		"tls":  s.config.TLS.Enabled,
	}).Info("Starting admin API server")

	if s.config.TLS.Enabled {
		tlsConfig, err := tlsconf.LoadServerConfig(s.config.TLS)
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.server.TLSConfig = tlsConfig
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	}

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop останавливает HTTP сервер // v1.0
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Logger.Info("Stopping admin API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// GetRouter возвращает роутер для тестирования // v1.0
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// loggingMiddleware добавляет логирование запросов // v1.0
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.Logger.WithFields(map[string]interface{}{
			"method":    param.Method,
			"path":      param.Path,
			"status":    param.StatusCode,
			"latency":   param.Latency,
			"client_ip": param.ClientIP,
		}).Info("HTTP request")

		return ""
	})
}

// corsMiddleware добавляет CORS заголовки // v1.0
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
