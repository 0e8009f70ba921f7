package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/service"
)

// AdminTokenHeader carries the admin token on config writes.
const AdminTokenHeader = "X-Admin-Token"

// Gateway is the monitor surface exposed over HTTP.
type Gateway interface {
	Create(ctx context.Context, sig monitor.Signal) (service.Admission, error)
	Cancel(ctx context.Context, id, reason string) (monitor.Alert, error)
	Get(ctx context.Context, id string) (monitor.Alert, error)
	ListActive(ctx context.Context) ([]monitor.Alert, error)
	History(ctx context.Context, filter monitor.HistoryFilter) ([]monitor.Alert, error)
	Summary(ctx context.Context, window time.Duration) (monitor.Summary, error)
	Config(ctx context.Context) (monitor.Config, error)
	UpdateConfig(ctx context.Context, cfg monitor.Config) (monitor.Config, error)
}

// Server exposes ingress and operator endpoints.
type Server struct {
	gw         Gateway
	adminToken string
	logger     zerolog.Logger
}

// NewServer constructs the HTTP layer.
func NewServer(gw Gateway, adminToken string, logger zerolog.Logger) *Server {
	return &Server{
		gw:         gw,
		adminToken: adminToken,
		logger:     logger.With().Str("component", "http_api").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the monitor routes on r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1/monitor")
	v1.POST("/alerts", s.createAlert)
	v1.GET("/alerts/active", s.listActive)
	v1.GET("/alerts/history", s.history)
	v1.GET("/alerts/:id", s.getAlert)
	v1.POST("/alerts/:id/cancel", s.cancelAlert)
	v1.GET("/summary", s.summary)
	v1.GET("/config", s.getConfig)
	v1.PUT("/config", s.requireAdmin(), s.updateConfig)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin token not configured"})
			return
		}
		got := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// writeError maps the monitor error taxonomy onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, monitor.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.ErrInvalidConfig):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, monitor.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, monitor.ErrConflict), errors.Is(err, monitor.ErrConcurrencyConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
