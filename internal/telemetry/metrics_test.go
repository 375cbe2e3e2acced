package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/you/streampulse/internal/core"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.IncMessages(core.PlatformTwitch)
	m.IncBotDropped(core.PlatformKick)
	m.IncReconnects(core.PlatformTwitch)
	m.IncErrors(core.PlatformTwitch)
	m.SetConnected(core.PlatformTwitch, "chan", true)
	m.AddOpenSessions(1)
	m.AddFlushFailures(1, 1)
	m.IncDBWriteErrors()
	m.ObserveSweep(1, 1, 1, 1, 1)
	m.IncReports("generated")
	m.IncDeliveries("https", true)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncMessages(core.PlatformTwitch)
	m.IncMessages(core.PlatformTwitch)
	m.IncBotDropped(core.PlatformKick)
	m.SetConnected(core.PlatformKick, "chan", true)
	m.AddFlushFailures(2, 0)
	m.ObserveSweep(3, 1, 2, 1, 0)
	m.IncDeliveries("nats", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		`streampulse_chat_messages_total{platform="twitch"} 2`,
		`streampulse_connector_connected{channel="chan",platform="kick"} 1`,
		`streampulse_aggregate_flush_failures_total{kind="chatter"} 2`,
		`streampulse_sweep_sessions_total{outcome="ended"} 3`,
		`streampulse_report_deliveries_total{scheme="nats",status="failed"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "streampulse", "test")
	if err != nil || shutdown == nil {
		t.Fatalf("disabled tracing: %v", err)
	}
	shutdown()

	_, span := StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
}
