package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/proxycheap-monitor/internal/config"
	"github.com/proxycheap-monitor/internal/coordinator"
	"github.com/proxycheap-monitor/internal/entities"
	"github.com/proxycheap-monitor/internal/metrics"
	"github.com/proxycheap-monitor/internal/proxycheap"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Server struct {
	config      *config.Config
	coordinator *coordinator.Coordinator
	metrics     *metrics.Collector
	enabledSet  map[string]bool
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, coord *coordinator.Coordinator, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		coordinator: coord,
		metrics:     metricsCollector,
		enabledSet:  entities.EnabledSet(cfg.Poller.EnabledSensors),
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/snapshot", s.handleSnapshot)
	protected.GET("/balance", s.handleBalance)
	protected.GET("/proxies", s.handleProxies)
	protected.GET("/proxies/:id", s.handleProxy)
	protected.GET("/entities", s.handleEntities)

	protected.POST("/refresh", s.handleRefresh)
	protected.POST("/proxies/:id/extend", s.handleExtend)
	protected.POST("/proxies/:id/whitelist", s.handleWhitelist)
	protected.POST("/proxies/:id/auto-extend", s.handleAutoExtend)
	protected.POST("/proxies/:id/bandwidth", s.handleBuyBandwidth)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, duration)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	health := s.coordinator.Health()
	snap := s.coordinator.Snapshot()

	status := http.StatusOK
	if health.LastSuccess.IsZero() && health.LastError != "" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"health":  health,
		"updated": snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleBalance(c *gin.Context) {
	snap := s.coordinator.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"balance":  snap.Balance,
		"currency": snap.Currency,
		"updated":  snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleProxies(c *gin.Context) {
	snap := s.coordinator.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":   snap.ProxyCount,
		"proxies": snap.Proxies,
		"updated": snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleProxy(c *gin.Context) {
	snap := s.coordinator.Snapshot()
	px, ok := snap.Proxies[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Unknown proxy id",
		})
		return
	}
	c.JSON(http.StatusOK, px)
}

func (s *Server) handleEntities(c *gin.Context) {
	snap := s.coordinator.Snapshot()

	proxies := make(map[string][]entities.State, len(snap.Proxies))
	for id, px := range snap.Proxies {
		proxies[id] = entities.ProxyStates(px, s.enabledSet)
	}

	c.JSON(http.StatusOK, gin.H{
		"account": entities.AccountStates(snap, s.enabledSet),
		"proxies": proxies,
		"updated": snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	if err := s.coordinator.Refresh(c.Request.Context()); err != nil {
		s.vendorError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.coordinator.Snapshot())
}

func (s *Server) handleExtend(c *gin.Context) {
	var body struct {
		Months int `json:"months" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coordinator.ExtendProxy(c.Request.Context(), c.Param("id"), body.Months); err != nil {
		s.vendorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extended"})
}

func (s *Server) handleWhitelist(c *gin.Context) {
	var body struct {
		IPs []string `json:"ips"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coordinator.UpdateWhitelist(c.Request.Context(), c.Param("id"), body.IPs); err != nil {
		s.vendorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "whitelist updated"})
}

func (s *Server) handleAutoExtend(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coordinator.SetAutoExtend(c.Request.Context(), c.Param("id"), *body.Enabled); err != nil {
		s.vendorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "auto-extend updated"})
}

func (s *Server) handleBuyBandwidth(c *gin.Context) {
	var body struct {
		AmountGB float64 `json:"amount_gb" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coordinator.BuyBandwidth(c.Request.Context(), c.Param("id"), body.AmountGB); err != nil {
		s.vendorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "bandwidth purchased"})
}

// vendorError maps the client error taxonomy to HTTP statuses: auth
// failures and vendor errors are bad gateways from our perspective,
// timeouts are gateway timeouts.
func (s *Server) vendorError(c *gin.Context, err error) {
	kind := proxycheap.ErrorKind(err)
	status := http.StatusBadGateway
	if kind == "connection" {
		status = http.StatusGatewayTimeout
	}
	if kind == "" {
		kind = "internal"
		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  kind,
	})
}
