package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tishcommerce-checkout/pkg/logger"
	"github.com/angelmondragon/tishcommerce-checkout/pkg/metrics"
)

func TestRequestIDPropagatesOrMints(t *testing.T) {
	t.Parallel()

	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if seen != "req-123" || resp.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected caller request id, got ctx=%q header=%q", seen, resp.Header().Get(requestIDHeader))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if seen == "" || len(seen) > maxRequestIDLen {
		t.Fatalf("expected minted request id, got %q", seen)
	}
}

func TestRecovererReturnsInternalError(t *testing.T) {
	t.Parallel()

	h := Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "boom") {
		t.Fatalf("panic value leaked into response: %s", resp.Body.String())
	}
}

func TestLoggingRecordsUnmatchedRoute(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	h := Logging(logger.Nop(), metrics.NewHTTPMetrics(reg))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/some/raw/path", nil))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "route" && lp.GetValue() != "unmatched" {
					t.Fatalf("raw path used as route label: %s", lp.GetValue())
				}
			}
		}
		return
	}
	t.Fatalf("http_requests_total not exported")
}
