// Package metrics 暴露采集流水线的 Prometheus 指标
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlTotal          *prometheus.CounterVec
	crawlItems          *prometheus.CounterVec
	strategyAttempts    *prometheus.CounterVec
	retryTotal          *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	rateLimitWait       *prometheus.HistogramVec
	runDurationSeconds  prometheus.Histogram
	runTotal            *prometheus.CounterVec
	snapshotItemsLatest prometheus.Gauge

	once sync.Once
)

// Init 注册所有指标，可重复调用
func Init() {
	once.Do(func() {
		crawlTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_crawl_total",
				Help: "Total number of source crawls, labeled by platform and status.",
			},
			[]string{"platform", "status"},
		)
		crawlItems = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_crawl_items_total",
				Help: "Total number of normalized items returned, labeled by platform.",
			},
			[]string{"platform"},
		)
		strategyAttempts = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_strategy_attempts_total",
				Help: "Strategy attempts, labeled by platform, strategy and result.",
			},
			[]string{"platform", "strategy", "result"},
		)
		retryTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_retries_total",
				Help: "Retries scheduled by the retry executor, labeled by operation.",
			},
			[]string{"operation"},
		)
		cacheLookups = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_cache_lookups_total",
				Help: "Cache lookups, labeled by tier (memory/persistent) and result (hit/miss).",
			},
			[]string{"tier", "result"},
		)
		rateLimitWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotlist_rate_limit_wait_seconds",
				Help:    "Histogram of sliding window admission waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"class"},
		)
		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hotlist_run_duration_seconds",
				Help:    "Duration of full ingestion runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)
		runTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_runs_total",
				Help: "Ingestion runs, labeled by outcome (completed/skipped/failed).",
			},
			[]string{"outcome"},
		)
		snapshotItemsLatest = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotlist_snapshot_items",
				Help: "Number of articles in the latest published snapshot.",
			},
		)
	})
}

// Handler 返回 /metrics 的 http.Handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCrawl(platform, status string, items int) {
	Init()
	crawlTotal.WithLabelValues(platform, status).Inc()
	if items > 0 {
		crawlItems.WithLabelValues(platform).Add(float64(items))
	}
}

func ObserveStrategy(platform, strategy, result string) {
	Init()
	strategyAttempts.WithLabelValues(platform, strategy, result).Inc()
}

func ObserveRetry(operation string) {
	Init()
	retryTotal.WithLabelValues(operation).Inc()
}

func ObserveCache(tier, result string) {
	Init()
	cacheLookups.WithLabelValues(tier, result).Inc()
}

// ObserveRateLimitWait 只记录真正发生过等待的情况
func ObserveRateLimitWait(class string, d time.Duration) {
	if d <= 0 {
		return
	}
	Init()
	rateLimitWait.WithLabelValues(class).Observe(d.Seconds())
}

func ObserveRun(outcome string, d time.Duration) {
	Init()
	runTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		runDurationSeconds.Observe(d.Seconds())
	}
}

func SetSnapshotItems(n int) {
	Init()
	snapshotItemsLatest.Set(float64(n))
}
