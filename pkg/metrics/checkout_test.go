package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)

	m.ObserveFulfillment("webhook", "fulfilled", 250*time.Millisecond)
	m.ObserveFulfillment("verify", "already_fulfilled", time.Millisecond)
	m.IncEmail("customer", true)
	m.IncEmail("admin", false)
	m.IncGateway("stripe", "retrieve", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	assertCounter(t, mfs, "fulfillment_total", map[string]string{"trigger": "webhook", "outcome": "fulfilled"}, 1)
	assertCounter(t, mfs, "fulfillment_total", map[string]string{"trigger": "verify", "outcome": "already_fulfilled"}, 1)
	assertCounter(t, mfs, "notification_emails_total", map[string]string{"recipient": "customer", "outcome": OutcomeSuccess}, 1)
	assertCounter(t, mfs, "notification_emails_total", map[string]string{"recipient": "admin", "outcome": OutcomeFailure}, 1)
	assertCounter(t, mfs, "gateway_requests_total", map[string]string{"provider": "stripe", "op": "retrieve", "outcome": OutcomeSuccess}, 1)

	metric, err := findMetric(mfs, "fulfillment_duration_seconds", map[string]string{"trigger": "webhook"})
	if err != nil {
		t.Fatalf("fetch duration: %v", err)
	}
	if metric.GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected duration sum > 0")
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var m *CheckoutMetrics
	m.ObserveFulfillment("webhook", "fulfilled", time.Second)
	m.IncEmail("customer", true)
	NewCheckoutMetrics(nil).IncGateway("paypal", "capture", false)
}

func assertCounter(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string, want float64) {
	t.Helper()
	metric, err := findMetric(mfs, name, labels)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	if got := metric.GetCounter().GetValue(); got != want {
		t.Fatalf("expected %s%v=%f, got %f", name, labels, want, got)
	}
}

func findMetric(mfs []*dto.MetricFamily, name string, labels map[string]string) (*dto.Metric, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric, nil
			}
		}
		return nil, fmt.Errorf("metric %q missing labels %v", name, labels)
	}
	return nil, fmt.Errorf("metric %q not found", name)
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
