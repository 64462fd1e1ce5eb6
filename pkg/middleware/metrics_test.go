package middleware

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rembraille/rembraille/pkg/protocol"
	"github.com/rembraille/rembraille/pkg/transport"
)

func resetGlobalMetricsForTest() {
	globalMetricsMu.Lock()
	globalMetrics = nil
	globalMetricsMu.Unlock()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestPrometheusRecordsSuccessAndError(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg), WithNamespace("test"))

	ok := mw(func(protocol.Message) error { return nil })
	if err := ok(protocol.Ping{}); err != nil {
		t.Fatalf("wrapped handler error: %v", err)
	}

	handlerErr := errors.New("handler failure")
	failing := mw(func(protocol.Message) error { return handlerErr })
	if err := failing(protocol.DisplayCells{}); !errors.Is(err, handlerErr) {
		t.Fatalf("wrapped handler = %v, want the handler error back", err)
	}

	m := globalMetrics
	if got := counterValue(t, m.framesReceived.WithLabelValues("Ping", "success")); got != 1 {
		t.Errorf("Ping success count = %v, want 1", got)
	}
	if got := counterValue(t, m.framesReceived.WithLabelValues("DisplayCells", "error")); got != 1 {
		t.Errorf("DisplayCells error count = %v, want 1", got)
	}
	if got := counterValue(t, m.dispatchErrors.WithLabelValues("DisplayCells")); got != 1 {
		t.Errorf("DisplayCells dispatch errors = %v, want 1", got)
	}
	if got := histogramCount(t, m.dispatchDuration.WithLabelValues("Ping")); got != 1 {
		t.Errorf("Ping duration samples = %v, want 1", got)
	}
}

func TestPrometheusInitializesOnce(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	Prometheus(WithRegistry(reg))
	first := globalMetrics

	// A second middleware reuses the same collectors; re-registering
	// them on the default registry would panic.
	Prometheus()
	if globalMetrics != first {
		t.Error("second Prometheus() call replaced the metrics instance")
	}
}

func TestRecordHelpers(t *testing.T) {
	resetGlobalMetricsForTest()

	// All helpers are no-ops before initialization.
	RecordLinkUp()
	RecordLinkDown()
	RecordCells(40)
	RecordKeyEvent()
	RecordReconnect()
	RecordFrameSent(protocol.TypeKeyEvent)
	RecordLinkTraffic(100, 200)
	RecordKeepaliveTimeout()

	reg := prometheus.NewRegistry()
	Prometheus(WithRegistry(reg))
	m := globalMetrics

	RecordLinkUp()
	RecordLinkUp()
	RecordLinkDown()
	if got := gaugeValue(t, m.activeLinks); got != 1 {
		t.Errorf("active links = %v, want 1", got)
	}

	RecordCells(40)
	RecordCells(40)
	if got := counterValue(t, m.cellsWritten); got != 80 {
		t.Errorf("cells written = %v, want 80", got)
	}

	RecordKeyEvent()
	if got := counterValue(t, m.keyEventsSent); got != 1 {
		t.Errorf("key events sent = %v, want 1", got)
	}

	RecordReconnect()
	if got := counterValue(t, m.reconnectsTotal); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}

	RecordFrameSent(protocol.TypeKeyEvent)
	RecordFrameSent(protocol.TypeKeyEvent)
	RecordFrameSent(protocol.TypeDisplayCells)
	if got := counterValue(t, m.framesSent.WithLabelValues("KeyEvent")); got != 2 {
		t.Errorf("KeyEvent frames sent = %v, want 2", got)
	}
	if got := counterValue(t, m.framesSent.WithLabelValues("DisplayCells")); got != 1 {
		t.Errorf("DisplayCells frames sent = %v, want 1", got)
	}

	RecordLinkTraffic(150, 75)
	RecordLinkTraffic(50, 25)
	if got := counterValue(t, m.bytesSent); got != 200 {
		t.Errorf("bytes sent = %v, want 200", got)
	}
	if got := counterValue(t, m.bytesReceived); got != 100 {
		t.Errorf("bytes received = %v, want 100", got)
	}

	RecordKeepaliveTimeout()
	if got := counterValue(t, m.keepaliveTimeouts); got != 1 {
		t.Errorf("keepalive timeouts = %v, want 1", got)
	}
}

func TestPrometheusWorksInDispatcher(t *testing.T) {
	resetGlobalMetricsForTest()
	reg := prometheus.NewRegistry()

	d := transport.NewDispatcher(nil)
	d.Use(Prometheus(WithRegistry(reg)))

	handled := false
	d.Register(protocol.TypeKeyEvent, func(protocol.Message) error {
		handled = true
		return nil
	})

	d.Dispatch(protocol.KeyEvent{KeyID: 1, Pressed: true})

	if !handled {
		t.Fatal("handler not invoked through the metrics middleware")
	}
	if got := counterValue(t, globalMetrics.framesReceived.WithLabelValues("KeyEvent", "success")); got != 1 {
		t.Errorf("KeyEvent success count = %v, want 1", got)
	}
}
