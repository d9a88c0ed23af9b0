package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetReadyFlipsGauge(t *testing.T) {
	SetReady(true)
	if got := testutil.ToFloat64(readyGauge); got != 1 {
		t.Fatalf("ready gauge = %v, want 1", got)
	}

	SetReady(false)
	if got := testutil.ToFloat64(readyGauge); got != 0 {
		t.Fatalf("ready gauge = %v, want 0", got)
	}
}

func TestObserveGateDecision(t *testing.T) {
	before := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("denied", "RATE_LIMIT"))
	ObserveGateDecision("denied", "RATE_LIMIT")
	after := testutil.ToFloat64(gateDecisionsTotal.WithLabelValues("denied", "RATE_LIMIT"))
	if after != before+1 {
		t.Fatalf("decision counter went %v -> %v, want +1", before, after)
	}
}
