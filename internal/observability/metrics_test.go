package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOutcome(t *testing.T) {
	m := NewMetrics()
	m.RecordOutcome("recalc", "overdue", 2)
	m.RecordOutcome("recalc", "overdue", 1)
	m.RecordOutcome("recalc", "unchanged", 0)
	m.ObservePass("recalc", 20*time.Millisecond)

	if got := testutil.ToFloat64(m.passOutcomes.WithLabelValues("recalc", "overdue")); got != 3 {
		t.Fatalf("overdue outcomes = %v", got)
	}
	if n := testutil.CollectAndCount(m.passOutcomes); n != 1 {
		t.Fatalf("outcome series = %d, want 1", n)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOutcome("ingest", "created", 1)
	m.RecordRequest("/x", "GET", 200, time.Millisecond)
	m.ObservePass("ingest", time.Second)
}
