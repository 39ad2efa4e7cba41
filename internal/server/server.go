// Package server exposes the storefront over HTTP with gin.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VitorFirmino/cachelab"
	"github.com/VitorFirmino/cachelab/bus"
	"github.com/VitorFirmino/cachelab/storefront"
)

type Options struct {
	Service *storefront.Service // required

	// Bus is relayed to browsers on /api/cache/stream. Optional.
	Bus bus.Bus
	// Gatherer backs /metrics. nil => prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Health reports storage readiness on /healthz. Optional.
	Health func(ctx context.Context) error
	// AdminToken guards /api/admin with a bearer token. Empty => open.
	AdminToken string

	Logger            cachelab.Logger
	Heartbeat         time.Duration // SSE keep-alive; 0 => 15s
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type Server struct {
	svc    *storefront.Service
	log    cachelab.Logger
	router *gin.Engine
	stream *stream
	opts   Options
}

func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("server: storefront service is required")
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		svc:  opts.Service,
		log:  cachelab.LoggerOr(opts.Logger).With(cachelab.Fields{"component": "http"}),
		opts: opts,
	}
	s.stream = newStream(s.log, opts.Heartbeat)
	if opts.Bus != nil {
		if err := s.stream.relay(opts.Bus); err != nil {
			return nil, err
		}
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")
	api.GET("/featured", s.handleFeatured)
	api.GET("/products", s.handleProducts)
	api.GET("/products/:id/events", s.handleProductEvents)
	api.GET("/categories", s.handleCategories)
	api.POST("/checkout", s.handleCheckout)
	api.GET("/cache/stream", s.stream.handle)

	admin := api.Group("/admin", s.adminAuth())
	admin.POST("/products", s.handleCreateProduct)
	admin.PUT("/products/:id", s.handleUpdateProduct)
	admin.DELETE("/products/:id", s.handleDeleteProduct)
	admin.POST("/events", s.handleCreateEvent)
	admin.GET("/cache/profiles", s.handleListProfiles)
	admin.PUT("/cache/profiles/:id", s.handleUpdateProfile)
	admin.POST("/cache/purge", s.handlePurgeAll)
	admin.POST("/cache/purge-tags", s.handlePurgeTags)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.handleHealth)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http.listening", cachelab.Fields{"addr": addr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.stream.close()
		return err
	case <-ctx.Done():
	}

	s.stream.close()
	sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http.stopped", nil)
	return nil
}

// Close detaches the SSE relay and ends open streams.
func (s *Server) Close() { s.stream.close() }

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/api/cache/stream" {
			return
		}
		s.log.Debug("http.request", cachelab.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
			"took":   time.Since(start).String(),
		})
	}
}

func (s *Server) adminAuth() gin.HandlerFunc {
	token := s.opts.AdminToken
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			fail(c, http.StatusUnauthorized, CodeUnauthorized, "admin token required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			s.log.Warn("http.health_failed", cachelab.Fields{"err": err})
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
