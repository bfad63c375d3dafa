package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.CheckIn("ok")
	m.CheckOut("ok")
	m.Reconciliation("noop")
	m.DailyKey("accepted")
	m.PollFailure()
	m.GRPCRequest("/x", "OK")
}

func TestCountersAndHandler(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CheckIn("ok")
	m.CheckIn("ok")
	m.DailyKey("expired")
	m.PollFailure()

	if got := testutil.ToFloat64(m.checkIns.WithLabelValues("ok")); got != 2 {
		t.Fatalf("checkins=%v", got)
	}
	if got := testutil.ToFloat64(m.pollFailures); got != 1 {
		t.Fatalf("poll failures=%v", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `venuetrace_daily_key_ingest_total{result="expired"} 1`) {
		t.Fatalf("exposition missing counter:\n%s", rec.Body.String())
	}
}
