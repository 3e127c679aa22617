package telemetry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tributary/source/nakadi"
)

const namespace = "tributary"

// Metrics holds the reader metric families, labelled by event type.
type Metrics struct {
	messages   *prometheus.CounterVec
	events     *prometheus.CounterVec
	processed  *prometheus.CounterVec
	errors     *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	oldest     *prometheus.GaugeVec
	newest     *prometheus.GaugeVec
	state      *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "nakadi", Name: name, Help: help,
		}, []string{"event_type"})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nakadi", Name: name, Help: help,
		}, []string{"event_type"})
	}
	m := &Metrics{
		messages:   counter("batches_received_total", "Batches read from the stream, keep-alives included."),
		events:     counter("events_received_total", "Events contained in received batches."),
		processed:  counter("batches_processed_total", "Batches accepted by the listener."),
		errors:     counter("consume_errors_total", "Retryable errors while consuming."),
		reconnects: counter("reconnections_total", "Successful reconnects."),
		oldest:     gauge("oldest_event_timestamp_seconds", "occurred_at of the oldest event in the last batch."),
		newest:     gauge("newest_event_timestamp_seconds", "occurred_at of the newest event in the last batch."),
		state:      gauge("reader_state", "Current reader state (0=init 1=streaming 2=reconnecting 3=paused 4=terminated 5=failed)."),
	}
	reg.MustRegister(m.messages, m.events, m.processed, m.errors, m.reconnects, m.oldest, m.newest, m.state)
	return m
}

// Reader returns the collector for one event type.
func (m *Metrics) Reader(eventType string) *ReaderMetrics {
	return &ReaderMetrics{
		messages:   m.messages.WithLabelValues(eventType),
		events:     m.events.WithLabelValues(eventType),
		processed:  m.processed.WithLabelValues(eventType),
		errors:     m.errors.WithLabelValues(eventType),
		reconnects: m.reconnects.WithLabelValues(eventType),
		oldest:     m.oldest.WithLabelValues(eventType),
		newest:     m.newest.WithLabelValues(eventType),
		state:      m.state.WithLabelValues(eventType),
	}
}

// ReaderMetrics implements nakadi.MetricsCollector.
type ReaderMetrics struct {
	messages, events, processed, errors, reconnects prometheus.Counter
	oldest, newest, state                           prometheus.Gauge
}

var _ nakadi.MetricsCollector = (*ReaderMetrics)(nil)

func (r *ReaderMetrics) MessageReceived() { r.messages.Inc() }

func (r *ReaderMetrics) EventsReceived(n int, oldest, newest time.Time) {
	r.events.Add(float64(n))
	if !oldest.IsZero() {
		r.oldest.Set(float64(oldest.UnixMilli()) / 1e3)
	}
	if !newest.IsZero() {
		r.newest.Set(float64(newest.UnixMilli()) / 1e3)
	}
}

func (r *ReaderMetrics) ErrorWhileConsuming() { r.errors.Inc() }
func (r *ReaderMetrics) Reconnection()        { r.reconnects.Inc() }
func (r *ReaderMetrics) MessageProcessed()    { r.processed.Inc() }

// ObserveState is meant for ReaderParams.OnStateChange.
func (r *ReaderMetrics) ObserveState(s nakadi.State) { r.state.Set(float64(s)) }

// Expose serves /metrics for reg on addr until ctx is done.
func Expose(ctx context.Context, addr string, reg prometheus.Gatherer) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() { _ = srv.Serve(lis) }()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	return lis.Addr(), nil
}
