package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCorrelationMetrics(reg)
	s := NewSessionMetrics(reg)
	d := NewDispatchMetrics(reg)

	c.ObserveResolved("tracking_code", "whatsapp")
	c.ObserveMiss("whatsapp")
	s.ObserveTransition("connected", "disconnected")
	s.ObserveReconnectScheduled()
	s.ObserveHealthFailure()
	d.ObserveSend("whatsapp", "sent")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var c *CorrelationMetrics
	var s *SessionMetrics
	var d *DispatchMetrics
	c.ObserveResolved("x", "y")
	c.ObserveMiss("y")
	s.ObserveTransition("a", "b")
	s.ObserveReconnectScheduled()
	s.ObserveHealthFailure()
	d.ObserveSend("y", "failed")
}
