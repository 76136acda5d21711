// Package httpserver exposes the engine over a JSON REST API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/export"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "httpserver")

// LatestReports serves the newest scheduled result of a report.
type LatestReports interface {
	Latest(reportID string) (*model.ReportResult, bool)
}

// Config holds optional collaborators.
type Config struct {
	Telemetry *telemetry.Metrics
	Reports   LatestReports
}

// Server provides the HTTP API.
type Server struct {
	addr      string
	api       model.API
	tm        *telemetry.Metrics
	reports   LatestReports
	router    *gin.Engine
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, api model.API, conf ...Config) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		api:       api,
		tm:        c.Telemetry,
		reports:   c.Reports,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe)

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/stats", s.handleStats)
	r.POST("/api/events", s.handleRecordEvent)
	r.POST("/api/metrics", s.handleRecordMetric)
	r.GET("/api/metrics/:id", s.handleMetric)
	r.GET("/api/reports/:id", s.handleReport)
	r.GET("/api/reports/:id/latest", s.handleLatestReport)
	r.GET("/api/dashboards/:id", s.handleDashboard)
	r.GET("/api/export", s.handleExport)
	r.POST("/api/cleanup", s.handleCleanup)
	r.GET("/metrics", gin.WrapH(s.tm.Handler()))
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.router,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("serve")
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) observe(c *gin.Context) {
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	s.tm.HTTPRequest(c.Request.Method, route, c.Writer.Status())
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrMetricNotFound),
		errors.Is(err, model.ErrReportNotFound),
		errors.Is(err, model.ErrDashboardNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUserScopeRequired),
		errors.Is(err, model.ErrInvalidWindow),
		errors.Is(err, model.ErrUnsupportedFormat),
		errors.Is(err, model.ErrNonFiniteValue):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("route", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.api.SystemStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime":         time.Since(s.startTime).String(),
		"pending_events": stats.PendingEvents,
		"data_points":    stats.DataPoints,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.SystemStats())
}

func (s *Server) handleRecordEvent(c *gin.Context) {
	var req struct {
		Type    string         `json:"type" binding:"required"`
		Payload map[string]any `json:"payload"`
		UserID  string         `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing type field"})
		return
	}
	id := s.api.RecordEvent(req.Type, req.Payload, req.UserID)
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func (s *Server) handleRecordMetric(c *gin.Context) {
	var req struct {
		Metric string            `json:"metric" binding:"required"`
		Value  *float64          `json:"value" binding:"required"`
		Tags   map[string]string `json:"tags"`
		UserID string            `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing metric/value field"})
		return
	}
	if err := s.api.RecordMetric(req.Metric, *req.Value, req.Tags, req.UserID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleMetric(c *gin.Context) {
	md, err := s.api.GetMetricData(c.Param("id"), c.Query("window"), c.Query("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	if md == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, md)
}

func (s *Server) handleReport(c *gin.Context) {
	rep, err := s.api.GenerateReport(c.Param("id"), model.ReportOptions{
		Window: c.Query("window"),
		UserID: c.Query("user_id"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleLatestReport(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report scheduling is disabled"})
		return
	}
	rep, ok := s.reports.Latest(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no scheduled result for " + c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleDashboard(c *gin.Context) {
	view, err := s.api.GetDashboard(c.Param("id"), c.Query("user_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleExport(c *gin.Context) {
	includeMetrics, err := boolQuery(c, "metrics", true)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	includeEvents, err := boolQuery(c, "events", false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	gz, err := boolQuery(c, "gzip", false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.api.ExportData(model.ExportOptions{
		Window:         c.Query("window"),
		Format:         c.Query("format"),
		IncludeMetrics: &includeMetrics,
		IncludeEvents:  includeEvents,
	})
	if err != nil {
		fail(c, err)
		return
	}
	data, err := export.Marshal(snap, gz)
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="tally-export.`+export.Extension(snap.Format, gz)+`"`)
	c.Data(http.StatusOK, export.ContentType(snap.Format, gz), data)
}

func (s *Server) handleCleanup(c *gin.Context) {
	var req struct {
		MaxAgeMS int64 `json:"max_age_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxAgeMS <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_ms must be a positive integer"})
		return
	}
	removed := s.api.CleanupOldData(model.MaxAgeFromMillis(req.MaxAgeMS))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func boolQuery(c *gin.Context, key string, def bool) (bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(key + ": expected a boolean")
	}
	return v, nil
}
