package httpapi

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	return rr.Body.Bytes()
}

// Requests are labeled by chi route pattern, not by raw path.
func TestMetrics_UseRoutePattern(t *testing.T) {
	h := NewMux(newMock())
	if w := do(t, h, http.MethodGet, "/api/jobs/job-1", ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := scrape(t)
	if !bytes.Contains(body, []byte("evopanel_http_requests_total")) {
		t.Fatal("missing evopanel_http_requests_total")
	}
	if !bytes.Contains(body, []byte(`path="/api/jobs/{id}"`)) {
		t.Fatal("expected route pattern label")
	}
	if bytes.Contains(body, []byte(`path="/api/jobs/job-1"`)) {
		t.Fatal("raw path leaked into labels")
	}
}

func TestMetricsMiddleware_OutsideRouterFallsBackToPath(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rr := httptest.NewRecorder()
	MetricsMiddleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/plain", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/plain", http.MethodGet, "418")); got < 1 {
		t.Fatalf("counter=%v", got)
	}
}

func TestCountSubmission(t *testing.T) {
	before := testutil.ToFloat64(jobSubmissionsTotal.WithLabelValues("merge", "error"))
	countSubmission("merge", errors.New("boom"))
	countSubmission("merge", nil)
	if got := testutil.ToFloat64(jobSubmissionsTotal.WithLabelValues("merge", "error")); got != before+1 {
		t.Fatalf("error counter=%v want %v", got, before+1)
	}
	if got := testutil.ToFloat64(jobSubmissionsTotal.WithLabelValues("merge", "accepted")); got < 1 {
		t.Fatalf("accepted counter=%v", got)
	}
}
