package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWebhookMetricsExportsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.IncResult("mercadopago", WebhookResultAccepted)
	m.IncResult("mercadopago", WebhookResultAccepted)
	m.IncResult("mercadopago", WebhookResultDuplicate)
	m.ObserveDuration("mercadopago", 80*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got := fetchWebhookCounter(t, mfs, "mercadopago", WebhookResultAccepted); got != 2 {
		t.Fatalf("expected accepted=2, got %f", got)
	}
	if got := fetchWebhookCounter(t, mfs, "mercadopago", WebhookResultDuplicate); got != 1 {
		t.Fatalf("expected duplicate=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "webhook_processing_seconds", "gateway", "mercadopago"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestWebhookMetricsNilSafe(t *testing.T) {
	var m *WebhookMetrics
	m.IncResult("asaas", WebhookResultRejected)
	m.ObserveDuration("asaas", time.Second)
}

func fetchWebhookCounter(t *testing.T, mfs []*dto.MetricFamily, gateway, result string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, "webhook_events_total")
	if mf == nil {
		t.Fatalf("webhook_events_total not found")
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), "gateway", gateway) && matchesLabel(metric.GetLabel(), "result", result) {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("missing series gateway=%s result=%s", gateway, result)
	return 0
}
