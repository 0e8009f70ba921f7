package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"webhook-monitor/internal/monitor"
	"webhook-monitor/internal/service"
)

type createRequest struct {
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	Price           decimal.Decimal `json:"price"`
	WebhookSourceID string          `json:"webhook_source_id"`
	Strategy        string          `json:"strategy"`
	Comment         string          `json:"comment"`
	Supersede       bool            `json:"supersede"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) createAlert(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", monitor.ErrValidation, err))
		return
	}

	admission, err := s.gw.Create(c.Request.Context(), monitor.Signal{
		Symbol:          req.Symbol,
		Side:            monitor.Side(req.Side),
		Price:           req.Price,
		WebhookSourceID: req.WebhookSourceID,
		Strategy:        req.Strategy,
		Comment:         req.Comment,
		Supersede:       req.Supersede,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if admission.Outcome == service.OutcomeCreated || admission.Outcome == service.OutcomeSuperseded {
		status = http.StatusCreated
	}
	c.JSON(status, admission)
}

func (s *Server) cancelAlert(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, fmt.Errorf("%w: %v", monitor.ErrValidation, err))
			return
		}
	}

	alert, err := s.gw.Cancel(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Reason))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) getAlert(c *gin.Context) {
	alert, err := s.gw.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (s *Server) listActive(c *gin.Context) {
	alerts, err := s.gw.ListActive(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) history(c *gin.Context) {
	filter, err := parseHistoryFilter(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	alerts, err := s.gw.History(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) summary(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			s.writeError(c, fmt.Errorf("%w: window must be a positive duration, got %q", monitor.ErrValidation, raw))
			return
		}
		window = parsed
	}
	summary, err := s.gw.Summary(c.Request.Context(), window)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.gw.Config(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) updateConfig(c *gin.Context) {
	var cfg monitor.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", monitor.ErrInvalidConfig, err))
		return
	}
	updated, err := s.gw.UpdateConfig(c.Request.Context(), cfg)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func parseHistoryFilter(c *gin.Context) (monitor.HistoryFilter, error) {
	filter := monitor.HistoryFilter{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
	}
	if raw := c.Query("side"); raw != "" {
		side, err := monitor.ParseSide(raw)
		if err != nil {
			return filter, err
		}
		filter.Side = side
	}
	if raw := c.Query("state"); raw != "" {
		state := monitor.State(strings.ToUpper(raw))
		switch state {
		case monitor.StateMonitoring, monitor.StateExecuted, monitor.StateCancelled:
			filter.State = state
		default:
			return filter, fmt.Errorf("%w: unknown state %q", monitor.ErrValidation, raw)
		}
	}
	if raw := c.Query("exit_reason"); raw != "" {
		filter.ExitReason = monitor.ExitReason(strings.ToUpper(raw))
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("%w: %s must be RFC3339: %v", monitor.ErrValidation, bound.name, err)
		}
		*bound.dst = &parsed
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("%w: limit must be a positive integer", monitor.ErrValidation)
		}
		filter.Limit = limit
	}
	return filter, nil
}
