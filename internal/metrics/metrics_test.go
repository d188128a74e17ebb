package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GenerationRecorded()
	m.GenerationRecorded()
	m.Verification(OutcomeVerified)
	m.Verification(OutcomeRejected)
	m.Verification(OutcomeRejected)
	m.Activation()
	m.CacheError("get_usage")

	if got := testutil.ToFloat64(m.generations); got != 2 {
		t.Fatalf("generations=%v", got)
	}
	if got := testutil.ToFloat64(m.verifications.WithLabelValues(OutcomeRejected)); got != 2 {
		t.Fatalf("rejected=%v", got)
	}
	if got := testutil.ToFloat64(m.activations); got != 1 {
		t.Fatalf("activations=%v", got)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 5 {
		t.Fatalf("gathered series=%d err=%v", n, err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.GenerationRecorded()
	m.Verification(OutcomeError)
	m.Activation()
	m.CacheError("x")
}
