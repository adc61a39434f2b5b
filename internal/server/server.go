// Package server exposes edit sessions over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/preview"
)

// DefaultMaxPixels bounds the declared resolution of uploads (64 megapixels).
const DefaultMaxPixels = 64 << 20

type Config struct {
	// Archive receives every session export when set.
	Archive        *archive.Store
	CacheControl   string
	Encoder        codec.Encoder // defaults for exports; ?format= overrides the format
	MaxUploadBytes int64
	MaxPixels      int // uploads whose header declares more pixels are refused before decoding
	MaxSessions    int
	PreviewMaxSize int
	SessionTTL     time.Duration
}

type Server struct {
	engine   *gin.Engine
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	sessions map[string]*session
	started  time.Time
	cfg      Config
	mu       sync.RWMutex

	totalUploads   atomic.Int64
	failedUploads  atomic.Int64
	totalRenders   atomic.Int64
	totalExports   atomic.Int64
	activeDecodes  atomic.Int32
	expiredCounter atomic.Int64
}

// Status is the JSON body of the status endpoint.
type Status struct {
	Uptime        string `json:"uptime"`
	Sessions      int    `json:"sessions"`
	MaxSessions   int    `json:"max_sessions"`
	ActiveDecodes int    `json:"active_decodes"`
	TotalUploads  int64  `json:"total_uploads"`
	FailedUploads int64  `json:"failed_uploads"`
	TotalRenders  int64  `json:"total_renders"`
	TotalExports  int64  `json:"total_exports"`
	Expired       int64  `json:"expired_sessions"`
	Archive       bool   `json:"archive"`
}

// New builds the server and starts the idle-session sweeper. Call Stop to release it.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	if cfg.PreviewMaxSize <= 0 {
		cfg.PreviewMaxSize = preview.DefaultMaxSize
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "no-store"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		started:  time.Now(),
	}
	s.engine = s.routes()

	go s.sweeper()

	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/filters", s.getFilters)
			v1.GET("/status", s.getStatus)
			v1.POST("/render", s.postRender)

			v1.POST("/sessions", s.postSession)
			v1.GET("/sessions/:id", s.getSession)
			v1.PATCH("/sessions/:id", s.patchSession)
			v1.DELETE("/sessions/:id", s.deleteSession)
			v1.PUT("/sessions/:id/image", s.putImage)
			v1.GET("/sessions/:id/preview", s.getPreview)
			v1.GET("/sessions/:id/export", s.getExport)

			v1.GET("/exports", s.getExports)
			v1.GET("/exports/:name", s.getArchivedExport)
		}
	}

	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Stop closes every session and cancels pending decodes.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.close()
		delete(s.sessions, id)
	}
}

// Status returns the current counters.
func (s *Server) Status() Status {
	s.mu.RLock()
	n := len(s.sessions)
	s.mu.RUnlock()

	return Status{
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Sessions:      n,
		MaxSessions:   s.cfg.MaxSessions,
		ActiveDecodes: int(s.activeDecodes.Load()),
		TotalUploads:  s.totalUploads.Load(),
		FailedUploads: s.failedUploads.Load(),
		TotalRenders:  s.totalRenders.Load(),
		TotalExports:  s.totalExports.Load(),
		Expired:       s.expiredCounter.Load(),
		Archive:       s.cfg.Archive != nil,
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, s.Status())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log().Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// cors allows browser pages on other origins to drive the API.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Render-Seq")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
