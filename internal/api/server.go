package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spreadScope/internal/ingest"
	"spreadScope/internal/model"
)

// HealthSource reports feed health.
type HealthSource interface {
	Health() ingest.Health
}

// PoolLister lists tracked pools.
type PoolLister interface {
	All() []model.PoolIdentity
}

type Config struct {
	Addr string
	// StaleAfter marks the feed unhealthy when no event arrived for longer.
	StaleAfter time.Duration
}

// Server is the ops HTTP surface.
type Server struct {
	cfg      Config
	health   HealthSource
	pools    PoolLister
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	now      func() time.Time
	router   *gin.Engine
}

func NewServer(cfg Config, health HealthSource, pools PoolLister, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{cfg: cfg, health: health, pools: pools, gatherer: gatherer, logger: logger, now: time.Now}
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/healthz", s.healthz)
	router.GET("/pools", s.listPools)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.router = router
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no feed"})
		return
	}
	h := s.health.Health()
	status, code := "ok", http.StatusOK
	switch {
	case !h.Connected:
		status, code = "disconnected", http.StatusServiceUnavailable
	case !h.LastEventAt.IsZero() && s.now().Sub(h.LastEventAt) > s.cfg.StaleAfter:
		status, code = "stale", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "feed": h})
}

func (s *Server) listPools(c *gin.Context) {
	var pools []model.PoolIdentity
	if s.pools != nil {
		pools = s.pools.All()
	}
	if raw := c.Query("family"); raw != "" {
		family, err := model.ParseFamily(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filtered := pools[:0:0]
		for _, p := range pools {
			if p.Family == family {
				filtered = append(filtered, p)
			}
		}
		pools = filtered
	}
	if pools == nil {
		pools = []model.PoolIdentity{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(pools), "pools": pools})
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
