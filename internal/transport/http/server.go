// Package httpapi serves the control surface: start/stop, status,
// positions, stats, market peeks and the audit trail.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quorum/internal/engine"
	"quorum/internal/logger"
	"quorum/internal/store"

	"github.com/gin-gonic/gin"
)

// Server wraps gin around the engine and the store.
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr   string
	Engine *engine.Engine
	Store  store.LedgerStore
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{engine: cfg.Engine, store: cfg.Store}
	api := router.Group("/api")
	{
		api.POST("/system/start", h.handleStart)
		api.POST("/system/stop", h.handleStop)
		api.GET("/system/status", h.handleStatus)
		api.GET("/positions", h.handlePositions)
		api.GET("/stats/daily", h.handleDailyStats)
		api.GET("/market/:symbol", h.handleMarket)
		api.GET("/audit", h.handleAudit)
		api.GET("/trades", h.handleTrades)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	engine *engine.Engine
	store  store.LedgerStore
}

func (h *handlers) handleStart(c *gin.Context) {
	if err := h.engine.StartTrading(context.WithoutCancel(c.Request.Context())); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *handlers) handleStop(c *gin.Context) {
	if err := h.engine.StopTrading(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *handlers) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Status())
}

func (h *handlers) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.engine.Positions()})
}

func (h *handlers) handleDailyStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.DailyStats())
}

func (h *handlers) handleMarket(c *gin.Context) {
	symbol := c.Param("symbol")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	snap, err := h.engine.MarketSnapshot(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     snap.Symbol,
		"timestamp":  snap.Timestamp,
		"price":      snap.Price,
		"volume":     snap.Volume,
		"indicators": snap.Indicators,
	})
}

func (h *handlers) handleAudit(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no store configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.store.RecentAudits(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": records})
}

func (h *handlers) handleTrades(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no store configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := h.store.RecentClosedTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Infof("http %s %s status=%d elapsed=%s client=%s",
			method, path, c.Writer.Status(), time.Since(start).Truncate(time.Millisecond), c.ClientIP())
	}
}
