// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプライン、セレクタ、スロットローダー、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordRenderLatency(duration time.Duration)
	ObserveSelectionFailure(reason string)
	ObserveRecursionGuardTrip()
	ObserveSlotRead(storage string)
	RecordSlotsPruned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requests          *prometheus.CounterVec
	renderLatency     prometheus.Histogram
	selectionFailures *prometheus.CounterVec
	recursionTrips    prometheus.Counter
	slotReads         *prometheus.CounterVec
	slotsPruned       prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swim_requests_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status"}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swim_render_seconds",
			Help:    "トップレベルテンプレートの描画時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		selectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swim_template_selection_failures_total",
			Help: "理由別のテンプレート選択失敗数",
		}, []string{"reason"}),
		recursionTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swim_recursion_guard_trips_total",
			Help: "再帰ガードで中断された描画の合計数",
		}),
		slotReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swim_slot_reads_total",
			Help: "格納種別ごとのスロット一括読み込み数",
		}, []string{"storage"}),
		slotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swim_slots_pruned_total",
			Help: "添付先を失い削除されたスロットの合計数",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.renderLatency,
		c.selectionFailures,
		c.recursionTrips,
		c.slotReads,
		c.slotsPruned,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.requests.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRenderLatency は描画時間を記録する。
func (c *Collector) RecordRenderLatency(duration time.Duration) {
	c.renderLatency.Observe(duration.Seconds())
}

// ObserveSelectionFailure はテンプレート選択の失敗を記録する。
func (c *Collector) ObserveSelectionFailure(reason string) {
	c.selectionFailures.WithLabelValues(reason).Inc()
}

// ObserveRecursionGuardTrip は再帰ガードによる中断を記録する。
func (c *Collector) ObserveRecursionGuardTrip() {
	c.recursionTrips.Inc()
}

// ObserveSlotRead はスロットの一括読み込みを記録する。
func (c *Collector) ObserveSlotRead(storage string) {
	c.slotReads.WithLabelValues(storage).Inc()
}

// RecordSlotsPruned は削除したスロット数を記録する。
func (c *Collector) RecordSlotsPruned(count int64) {
	c.slotsPruned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
