package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestSetSeatsTotalAndInUse(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetSeatsTotal("Widgets", 4)
	m.SetSeatsInUse("Widgets", 1)

	if got := gaugeValue(t, m.SeatsTotal.WithLabelValues("Widgets")); got != 4 {
		t.Fatalf("SeatsTotal = %v, want 4", got)
	}
	if got := gaugeValue(t, m.SeatsInUse.WithLabelValues("Widgets")); got != 1 {
		t.Fatalf("SeatsInUse = %v, want 1", got)
	}
}

func TestCountersStartAtZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	var c dto.Metric
	if err := m.ConnectionsStaleReapedTotal.Write(&c); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	if c.GetCounter().GetValue() != 0 {
		t.Fatalf("ConnectionsStaleReapedTotal = %v, want 0", c.GetCounter().GetValue())
	}
}
