package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tributary/source/nakadi"
)

func TestReaderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := m.Reader("order.created")

	r.MessageReceived()
	r.MessageReceived()
	r.EventsReceived(0, time.Time{}, time.Time{})
	newest := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r.EventsReceived(3, newest.Add(-time.Minute), newest)
	r.MessageProcessed()
	r.ErrorWhileConsuming()
	r.Reconnection()
	r.ObserveState(nakadi.StateReconnecting)

	if got := testutil.ToFloat64(m.messages.WithLabelValues("order.created")); got != 2 {
		t.Fatalf("batches = %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues("order.created")); got != 3 {
		t.Fatalf("events = %v", got)
	}
	if got := testutil.ToFloat64(m.newest.WithLabelValues("order.created")); got != float64(newest.Unix()) {
		t.Fatalf("newest = %v", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("order.created")); got != float64(nakadi.StateReconnecting) {
		t.Fatalf("state = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 8 {
		t.Fatalf("gathered %d series, want 8 (%v)", n, err)
	}
}

func TestExpose(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).Reader("e").Reconnection()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, err := Expose(ctx, "127.0.0.1:0", reg)
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}
	resp, err := http.Get("http://" + addr.String() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `tributary_nakadi_reconnections_total{event_type="e"} 1`) {
		t.Fatalf("metric not exposed:\n%s", body)
	}
}
