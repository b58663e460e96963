// Package httpserver exposes health, metrics and tracked records over HTTP
// and accepts action invocations.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/utility-sync-worker/internal/db"
	"github.com/septivank/utility-sync-worker/internal/host"
	"github.com/septivank/utility-sync-worker/internal/indication"
	"github.com/septivank/utility-sync-worker/internal/remote"
	"github.com/septivank/utility-sync-worker/internal/service"
	"go.uber.org/zap"
)

// Snapshots reads persisted record snapshots
type Snapshots interface {
	ListRecords(ctx context.Context, entryID string) ([]db.TrackedRecord, error)
}

// Server is the status server of the worker
type Server struct {
	router    *gin.Engine
	srv       *http.Server
	processor *service.Processor
	snapshots Snapshots
	entries   []*service.Entry
	logger    *zap.Logger
	started   time.Time
}

// New builds the router; nothing listens until Start. snapshots may be nil.
func New(addr string, entries []*service.Entry, processor *service.Processor, snapshots Snapshots, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	s := &Server{
		router:    r,
		processor: processor,
		snapshots: snapshots,
		entries:   entries,
		logger:    logger,
		started:   time.Now(),
	}
	s.srv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	s.registerRoutes()
	return s
}

// Handler returns the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"entries": len(s.entries),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/entries/:entry/records", func(c *gin.Context) {
		entry, ok := s.processor.Entry(c.Param("entry"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}

		registry := entry.Registry()
		records := registry.List()
		views := make([]gin.H, 0, len(records))
		for _, rec := range records {
			views = append(views, snapshotJSON(registry.View(rec)))
		}
		c.JSON(http.StatusOK, gin.H{"records": views})
	})

	s.router.GET("/entries/:entry/snapshots", func(c *gin.Context) {
		if s.snapshots == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store not configured"})
			return
		}
		records, err := s.snapshots.ListRecords(c.Request.Context(), c.Param("entry"))
		if err != nil {
			s.logger.Error("failed to list snapshots", zap.String("entry_id", c.Param("entry")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list snapshots"})
			return
		}
		views := make([]gin.H, 0, len(records))
		for _, rec := range records {
			views = append(views, snapshotJSON(rec))
		}
		c.JSON(http.StatusOK, gin.H{"records": views})
	})

	s.router.POST("/entries/:entry/actions", func(c *gin.Context) {
		var msg service.ActionMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg.EntryID = c.Param("entry")

		env, err := s.processor.Handle(c.Request.Context(), msg)
		if env != nil {
			c.JSON(statusFor(err), env.Fields())
			return
		}
		// Without an envelope the request never reached an entry
		status := http.StatusBadRequest
		if errors.Is(err, host.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
	})
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, host.ErrNotFound):
		return http.StatusNotFound
	case indication.IsValidation(err):
		return http.StatusUnprocessableEntity
	case remote.IsAPIError(err), remote.IsSessionExpired(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func snapshotJSON(view db.TrackedRecord) gin.H {
	return gin.H{
		"key":          view.RecordKey,
		"kind":         view.Kind,
		"account_code": view.AccountCode,
		"name":         view.Name,
		"state":        rawJSON(view.State),
		"attributes":   rawJSON(view.Attributes),
		"available":    view.Available,
		"updated_at":   view.UpdatedAt,
	}
}

type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// Start listens in the background
func (s *Server) Start() error {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("status server listening", zap.String("addr", s.srv.Addr))
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Debug("http_request", fields...)
		}
	}
}
