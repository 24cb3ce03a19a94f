// Package httpapi serves a read-only JSON API over the curated result
// store, plus the Prometheus exposition endpoint.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/angusf777/CrowdInsight/internal/db"
	"github.com/angusf777/CrowdInsight/internal/globaltime"
	"github.com/angusf777/CrowdInsight/internal/metrics"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200

	defaultRunLimit = 50
	maxRunLimit     = 500
)

type Options struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool    *db.Pool
	logger  zerolog.Logger
	metrics *metrics.Metrics
	opts    Options
}

func NewServer(pool *db.Pool, logger zerolog.Logger, m *metrics.Metrics, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = ":8090"
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:    pool,
		logger:  logger,
		metrics: m,
		opts: Options{
			Addr:            addr,
			AllowedOrigins:  origins,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1", s.observeRequests)
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/campaigns", s.handleCampaigns)
	api.GET("/campaigns/:id", s.handleCampaignDetail)
	api.GET("/runs", s.handleRuns)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("crowdinsight api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("crowdinsight api server stopped")
	return nil
}

// observeRequests feeds the request counter and latency histogram. The
// route template keeps label cardinality bounded.
func (s *Server) observeRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.metrics == nil {
			return next(c)
		}

		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		s.metrics.ObserveHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start))
		return err
	}
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.pool.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("health ping failed")
		return internalError(c, "Database unreachable")
	}
	return success(c, map[string]any{
		"service": "crowdinsight",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pool.QueryDatasetStats(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query dataset stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleCampaigns(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}

	perPage, err := parsePositiveInt(c.QueryParam("per_page"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"per_page": err.Error()})
	}

	opts := db.CampaignListOptions{
		State:    strings.TrimSpace(strings.ToLower(c.QueryParam("state"))),
		Category: strings.TrimSpace(strings.ToLower(c.QueryParam("category"))),
		Search:   strings.TrimSpace(c.QueryParam("q")),
		Page:     page,
		PerPage:  perPage,
	}

	items, total, err := s.pool.ListCampaigns(c.Request().Context(), opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("query campaigns failed")
		return internalError(c, "Failed to load campaigns")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}

	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":        page,
			"per_page":    perPage,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"state":    opts.State,
			"category": opts.Category,
			"q":        opts.Search,
		},
	})
}

func (s *Server) handleCampaignDetail(c echo.Context) error {
	raw := strings.TrimSpace(c.Param("id"))
	campaignID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || campaignID <= 0 {
		return failValidation(c, map[string]string{"id": "must be a positive integer"})
	}

	detail, err := s.pool.GetCampaign(c.Request().Context(), campaignID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Campaign not found")
		}
		s.logger.Error().Err(err).Int64("campaign_id", campaignID).Msg("query campaign failed")
		return internalError(c, "Failed to load campaign")
	}

	return success(c, detail)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunLimit, 1, maxRunLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	stage := strings.TrimSpace(strings.ToLower(c.QueryParam("stage")))
	items, err := s.pool.ListPipelineRuns(c.Request().Context(), stage, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("stage", stage).Msg("query pipeline runs failed")
		return internalError(c, "Failed to load pipeline runs")
	}

	return success(c, map[string]any{
		"items": items,
		"stage": stage,
		"limit": limit,
	})
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
