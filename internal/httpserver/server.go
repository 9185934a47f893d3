// Package httpserver exposes the slow-query database over a small JSON API.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/mongoslow/internal/aggregate"
	"github.com/tinytelemetry/mongoslow/internal/model"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:3000"

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore interface {
	model.RecordReader
	RecentRuns(limit int) ([]model.IngestRun, error)
}

// Server provides an HTTP API for querying ingested slow queries.
type Server struct {
	addr      string
	store     QueryStore
	agg       *aggregate.Aggregator
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store QueryStore) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		store:     store,
		agg:       aggregate.New(store),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/report", s.handleReport)
	api.GET("/runs", s.handleRuns)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
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
			log.Error().Err(err).Msg("httpserver: serve failed")
		}
	}()
	log.Info().Str("addr", listener.Addr().String()).Msg("httpserver: listening")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
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

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("httpserver: request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.store.TotalRecordCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"record_count": count,
	})
}

// reportRequest maps query parameters to an aggregation request.
func reportRequest(c *gin.Context) (aggregate.Request, error) {
	req := aggregate.Request{
		Dimension:  model.Dimension(c.DefaultQuery("dimension", string(model.DefaultDimension))),
		OrderBy:    model.OrderBy(c.DefaultQuery("order", string(model.DefaultOrderBy))),
		Limit:      model.DefaultLimit,
		MinCount:   model.DefaultMinCount,
		PlanFilter: c.Query("plan"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, model.InvalidArgumentf("limit %q is not a number", v)
		}
		req.Limit = n
	}
	if v := c.Query("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, model.InvalidArgumentf("count %q is not a number", v)
		}
		req.MinCount = n
	}
	if v := c.Query("collscan"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return req, model.InvalidArgumentf("collscan %q is not a boolean", v)
		}
		if on {
			req.PlanFilter = "COLLSCAN"
		}
	}
	return req, nil
}

func (s *Server) handleReport(c *gin.Context) {
	req, err := reportRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rows, err := s.agg.Aggregate(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrInvalidArgument) {
			status = http.StatusBadRequest
		} else {
			log.Error().Err(err).Msg("httpserver: report failed")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dimension": req.Dimension,
		"order_by":  req.OrderBy,
		"rows":      rows,
		"row_count": len(rows),
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive number"})
			return
		}
		limit = n
	}
	runs, err := s.store.RecentRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ingest runs"})
		return
	}
	if runs == nil {
		runs = []model.IngestRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.SchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		if strings.HasPrefix(tableName, "schema_") {
			continue
		}
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}
