package metrics

import (
	"testing"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	_ repository.Metrics = (*Recorder)(nil)
	_ repository.Metrics = Nop{}
)

func TestRecorder(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordDecision("BTCUSDT", models.ActionBuy, true, 0.42)
	r.RecordDecision("BTCUSDT", models.ActionBuy, false, 0.61)
	r.RecordSync(5, 2)
	r.RecordPhase(2, 640)

	if got := testutil.ToFloat64(r.decisions.WithLabelValues("BTCUSDT", "BUY")); got != 2 {
		t.Fatalf("expected 2 decisions, got %v", got)
	}
	if got := testutil.ToFloat64(r.conflicts.WithLabelValues("BTCUSDT")); got != 1 {
		t.Fatalf("expected 1 conflict, got %v", got)
	}
	if got := testutil.ToFloat64(r.syncRecords.WithLabelValues("failed")); got != 2 {
		t.Fatalf("expected 2 failed records, got %v", got)
	}
	if got := testutil.ToFloat64(r.phase); got != 2 {
		t.Fatalf("expected phase gauge 2, got %v", got)
	}
}
