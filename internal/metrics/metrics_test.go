package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.WebhooksReceived.WithLabelValues("stored").Inc()
	m.WebhooksReceived.WithLabelValues("stored").Inc()
	m.Duplicates.Inc()

	if v := testutil.ToFloat64(m.WebhooksReceived.WithLabelValues("stored")); v != 2 {
		t.Errorf("expected 2 stored webhooks, got %v", v)
	}
	if v := testutil.ToFloat64(m.Duplicates); v != 1 {
		t.Errorf("expected 1 duplicate, got %v", v)
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Duplicates.Inc()
	if v := testutil.ToFloat64(b.Duplicates); v != 0 {
		t.Errorf("registries should not share state, got %v", v)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveSend("sent", 120*time.Millisecond)
	m.GaugeFunc("inbox_size", "Stored inbound messages.", func() float64 { return 7 })

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	out := string(body)
	for _, want := range []string{
		`dmsbridge_outbound_sends_total{result="sent"} 1`,
		"dmsbridge_outbound_send_duration_seconds_count 1",
		"dmsbridge_inbox_size 7",
		"dmsbridge_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
