// Package metrics exposes dataset and request metrics for the serve
// command. Dataset gauges mirror the result store and are refreshed on a
// ticker; request metrics are fed by the HTTP layer.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/angusf777/CrowdInsight/internal/db"
)

const DefaultRefreshInterval = 60 * time.Second

type Metrics struct {
	pool   *db.Pool
	logger zerolog.Logger

	registry *prometheus.Registry

	campaigns       *prometheus.GaugeVec
	successful      *prometheus.GaugeVec
	pledgedUSD      *prometheus.GaugeVec
	featureRecords  *prometheus.GaugeVec
	featureCoverage prometheus.Gauge
	stageRuns       *prometheus.GaugeVec

	refreshDur    prometheus.Summary
	refreshErrors prometheus.Counter
	lastRefreshTS prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers all collectors on a private registry so repeated
// construction (as in tests) never collides.
func New(pool *db.Pool, logger zerolog.Logger) *Metrics {
	m := &Metrics{
		pool:     pool,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	m.campaigns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_campaigns",
		Help:      "Curated campaigns stored, by category",
	}, []string{"category"})
	m.successful = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_successful_campaigns",
		Help:      "Curated campaigns in the successful state, by category",
	}, []string{"category"})
	m.pledgedUSD = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_pledged_usd",
		Help:      "Total pledged USD across stored campaigns, by category",
	}, []string{"category"})
	m.featureRecords = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_feature_records",
		Help:      "Assembled feature records stored, by campaign category",
	}, []string{"category"})
	m.featureCoverage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_feature_coverage_percent",
		Help:      "Share of stored campaigns that have an assembled feature record",
	})
	m.stageRuns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "pipeline_runs_recorded",
		Help:      "Recorded stage executions, by stage",
	}, []string{"stage"})

	m.refreshDur = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_refresh_duration_seconds",
		Help:      "Time spent refreshing dataset gauges from the store",
	})
	m.refreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_refresh_errors_total",
		Help:      "Dataset gauge refresh attempts that failed",
	})
	m.lastRefreshTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "crowdinsight",
		Name:      "dataset_last_refresh_timestamp_seconds",
		Help:      "Unix timestamp of the last successful dataset refresh",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdinsight",
		Name:      "http_requests_total",
		Help:      "API requests served, by method, route and status",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crowdinsight",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency, by method and route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(
		m.campaigns, m.successful, m.pledgedUSD,
		m.featureRecords, m.featureCoverage, m.stageRuns,
		m.refreshDur, m.refreshErrors, m.lastRefreshTS,
		m.httpRequests, m.httpDuration,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Refresh reloads every dataset gauge from the store.
func (m *Metrics) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() { m.refreshDur.Observe(time.Since(start).Seconds()) }()

	stats, err := m.pool.QueryDatasetStats(ctx)
	if err != nil {
		m.refreshErrors.Inc()
		return err
	}
	runCounts, err := m.pool.QueryRunCountsByStage(ctx)
	if err != nil {
		m.refreshErrors.Inc()
		return err
	}

	// Reset before repopulating so categories that disappeared from the
	// store do not linger with stale values.
	m.campaigns.Reset()
	m.successful.Reset()
	m.pledgedUSD.Reset()
	m.featureRecords.Reset()
	m.stageRuns.Reset()

	for _, row := range stats.Categories {
		m.campaigns.WithLabelValues(row.Category).Set(float64(row.Campaigns))
		m.successful.WithLabelValues(row.Category).Set(float64(row.Successful))
		m.pledgedUSD.WithLabelValues(row.Category).Set(row.PledgedUSD)
		m.featureRecords.WithLabelValues(row.Category).Set(float64(row.Features))
	}
	m.featureCoverage.Set(stats.FeatureCoverage)
	for stage, count := range runCounts {
		m.stageRuns.WithLabelValues(stage).Set(float64(count))
	}

	m.lastRefreshTS.Set(float64(time.Now().Unix()))
	return nil
}

// Run refreshes the dataset gauges on a ticker until the context ends. The
// first refresh happens immediately so /metrics is populated from startup.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	if err := m.Refresh(ctx); err != nil {
		m.logger.Error().Err(err).Msg("dataset metrics refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Error().Err(err).Msg("dataset metrics refresh failed")
			}
		}
	}
}
