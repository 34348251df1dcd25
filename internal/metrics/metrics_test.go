package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.CommandsTotal == nil {
		t.Error("CommandsTotal should be initialized")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive should be initialized")
	}
	if m.GatewayCallsTotal == nil {
		t.Error("GatewayCallsTotal should be initialized")
	}
}

func TestObserveCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		errCode string
	}{
		{name: "ok command", command: "PING", errCode: ""},
		{name: "failed command", command: "SESSION", errCode: "113"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveCommand(tt.command, 10*time.Millisecond, tt.errCode)

			status := "ok"
			if tt.errCode != "" {
				status = "error"
			}
			count := promtest.ToFloat64(m.CommandsTotal.WithLabelValues(tt.command, status))
			if count != 1 {
				t.Errorf("expected 1 command observation, got %.0f", count)
			}
			if tt.errCode != "" {
				errCount := promtest.ToFloat64(m.CommandErrors.WithLabelValues(tt.command, tt.errCode))
				if errCount != 1 {
					t.Errorf("expected 1 command error, got %.0f", errCount)
				}
			}
		})
	}
}

func TestObserveGatewayCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveGatewayCall("stripe", "chargecard", 200*time.Millisecond, nil)
	ok := promtest.ToFloat64(m.GatewayCallsTotal.WithLabelValues("stripe", "chargecard", "ok"))
	if ok != 1 {
		t.Errorf("expected 1 ok gateway call, got %.0f", ok)
	}

	m.ObserveGatewayCall("stripe", "chargecard", 200*time.Millisecond, errors.New("timeout"))
	failed := promtest.ToFloat64(m.GatewayCallsTotal.WithLabelValues("stripe", "chargecard", "error"))
	if failed != 1 {
		t.Errorf("expected 1 failed gateway call, got %.0f", failed)
	}
}

func TestObserveBreakerTrip(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveBreakerTrip("paypal")
	trips := promtest.ToFloat64(m.GatewayBreakerTrips.WithLabelValues("paypal"))
	if trips != 1 {
		t.Errorf("expected 1 breaker trip, got %.0f", trips)
	}
}

func TestObserveStoreQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveStoreQuery("preorder", "insert", 2*time.Millisecond)
	if m.StoreQueryDuration == nil {
		t.Error("StoreQueryDuration should be initialized")
	}
}
