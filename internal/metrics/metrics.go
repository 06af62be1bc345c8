// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/model"
)

// 認証操作の結果ラベル
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// ゲートキーパーの判定ラベル
const (
	GateChecked = "checked"
	GateSkipped = "skipped"
	GateFailed  = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(operation, outcome string)
	RecordGatekeeper(result string)
	RecordPlaceMutation(operation string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
// identity.Observerも実装し、IdPクライアントのイベントを記録する。
type Collector struct {
	authAttempts   *prometheus.CounterVec
	authEvents     *prometheus.CounterVec
	sessionRefresh *prometheus.CounterVec
	gatekeeper     *prometheus.CounterVec
	placeMutations *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_auth_attempts_total",
			Help: "ログイン・会員登録・ソーシャルログインの試行数",
		}, []string{"operation", "outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_auth_events_total",
			Help: "認証状態の変更通知の数",
		}, []string{"event"}),
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_session_refresh_total",
			Help: "アクセストークンのリフレッシュ結果",
		}, []string{"outcome"}),
		gatekeeper: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_gatekeeper_requests_total",
			Help: "ゲートキーパーが処理したリクエスト数",
		}, []string{"result"}),
		placeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_place_mutations_total",
			Help: "業者データの変更数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reviewlab_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reviewlab_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.authEvents,
		c.sessionRefresh,
		c.gatekeeper,
		c.placeMutations,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordAuthAttempt は認証操作の結果を記録する。
func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordGatekeeper はゲートキーパーの判定を記録する。
func (c *Collector) RecordGatekeeper(result string) {
	c.gatekeeper.WithLabelValues(result).Inc()
}

// RecordPlaceMutation は業者データの変更を記録する。
func (c *Collector) RecordPlaceMutation(operation string) {
	c.placeMutations.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// ObserveAuthEvent は認証状態の変更通知を記録する。
func (c *Collector) ObserveAuthEvent(event model.AuthChangeEvent) {
	c.authEvents.WithLabelValues(string(event)).Inc()
}

// ObserveRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) ObserveRefresh(outcome string) {
	c.sessionRefresh.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストや未設定時に使う。
type NopCollector struct{}

func (NopCollector) RecordAuthAttempt(string, string)   {}
func (NopCollector) RecordGatekeeper(string)            {}
func (NopCollector) RecordPlaceMutation(string)         {}
func (NopCollector) RecordHTTPStatus(int)               {}
func (NopCollector) RecordRequestLatency(time.Duration) {}

// compile-time interface check
var (
	_ MetricsCollector  = (*Collector)(nil)
	_ MetricsCollector  = NopCollector{}
	_ identity.Observer = (*Collector)(nil)
)
