// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ジョブ・プロバイダ呼び出しの結果ラベル。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultRetry   = "retry"
	ResultDead    = "dead"
	ResultAbsent  = "absent"
)

// ブリーフィング生成経路のラベル。
const (
	PathSummarized = "summarized"
	PathFallback   = "fallback"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカー、コレクター、ブリーフィング生成から利用する。
type MetricsCollector interface {
	RecordJob(kind, result string, duration time.Duration)
	RecordBriefingGenerated(path string)
	RecordProviderCall(provider, op, result string, duration time.Duration)
	RecordSnapshotsUpserted(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobsProcessed     *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	briefings         *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	snapshotsUpserted prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockast_jobs_processed_total",
			Help: "種類・結果別の処理済みジョブ数",
		}, []string{"kind", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockast_job_duration_seconds",
			Help:    "ジョブ処理時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		briefings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockast_briefings_generated_total",
			Help: "生成経路別のブリーフィング生成数",
		}, []string{"path"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockast_provider_calls_total",
			Help: "外部プロバイダ呼び出し数",
		}, []string{"provider", "op", "result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockast_provider_latency_seconds",
			Help:    "外部プロバイダ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		snapshotsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockast_snapshots_upserted_total",
			Help: "アップサートされた株価スナップショットの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockast_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.jobsProcessed,
		c.jobDuration,
		c.briefings,
		c.providerCalls,
		c.providerLatency,
		c.snapshotsUpserted,
		c.httpStatus,
	)

	return c
}

// RecordJob はジョブ1回の処理結果と処理時間を記録する。
func (c *Collector) RecordJob(kind, result string, duration time.Duration) {
	c.jobsProcessed.WithLabelValues(kind, result).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordBriefingGenerated は生成経路（summarized/fallback）を記録する。
func (c *Collector) RecordBriefingGenerated(path string) {
	c.briefings.WithLabelValues(path).Inc()
}

// RecordProviderCall は外部プロバイダ呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordProviderCall(provider, op, result string, duration time.Duration) {
	c.providerCalls.WithLabelValues(provider, op, result).Inc()
	c.providerLatency.WithLabelValues(provider, op).Observe(duration.Seconds())
}

// RecordSnapshotsUpserted はアップサートされたスナップショット数を記録する。
func (c *Collector) RecordSnapshotsUpserted(count int) {
	c.snapshotsUpserted.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Noop struct{}

func (Noop) RecordJob(string, string, time.Duration) {}
func (Noop) RecordBriefingGenerated(string) {}
func (Noop) RecordProviderCall(string, string, string, time.Duration) {}
func (Noop) RecordSnapshotsUpserted(int) {}
func (Noop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
