package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/reviewlab/internal/identity"
	"github.com/hitoshi/reviewlab/internal/model"
)

// findMetric は名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordAuthAttempt_IncrementsByLabels は操作・結果ごとにカウントされることを検証する。
func TestRecordAuthAttempt_IncrementsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("signin", OutcomeSuccess)
	c.RecordAuthAttempt("signin", OutcomeSuccess)
	c.RecordAuthAttempt("signin", OutcomeRejected)

	m := findMetric(t, reg, "reviewlab_auth_attempts_total", map[string]string{"operation": "signin", "outcome": "success"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("signin/success = %v, want 2", got)
	}
	m = findMetric(t, reg, "reviewlab_auth_attempts_total", map[string]string{"operation": "signin", "outcome": "rejected"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("signin/rejected = %v, want 1", got)
	}
}

// TestObserver_RecordsAuthEventsAndRefresh はidentity.Observerとしての記録を検証する。
func TestObserver_RecordsAuthEventsAndRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveAuthEvent(model.AuthEventSignedIn)
	c.ObserveRefresh(identity.RefreshRejected)

	m := findMetric(t, reg, "reviewlab_auth_events_total", map[string]string{"event": "SIGNED_IN"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("SIGNED_IN = %v, want 1", got)
	}
	m = findMetric(t, reg, "reviewlab_session_refresh_total", map[string]string{"outcome": "rejected"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("refresh rejected = %v, want 1", got)
	}
}

// TestRecordGatekeeper_IncrementsCounter はゲートキーパーの判定が記録されることを検証する。
func TestRecordGatekeeper_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGatekeeper(GateSkipped)
	c.RecordGatekeeper(GateChecked)
	c.RecordGatekeeper(GateChecked)

	m := findMetric(t, reg, "reviewlab_gatekeeper_requests_total", map[string]string{"result": "checked"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("checked = %v, want 2", got)
	}
}

// TestRecordHTTPStatus_IncrementsByStatusCode はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)

	m := findMetric(t, reg, "reviewlab_http_status_total", map[string]string{"status_code": "200"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("status 200 = %v, want 2", got)
	}
}

// TestRecordRequestLatency_ObservesHistogram はレイテンシがヒストグラムに記録されることを検証する。
func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)

	m := findMetric(t, reg, "reviewlab_http_request_duration_seconds", nil)
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

// TestHandler_ServesMetrics はスクレイプ用ハンドラーがメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPlaceMutation("add")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "reviewlab_place_mutations_total") {
		t.Error("response should contain reviewlab_place_mutations_total")
	}
}
