package features

import (
	"math"
	"testing"

	"QuantSync/internal/domain/models"
)

func candles(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Close: c}
	}
	return out
}

func TestComputeLogReturns(t *testing.T) {
	r := ComputeLogReturns(candles(100, 110, 0, 121))
	if len(r) != 3 {
		t.Fatalf("expected 3 returns, got %d", len(r))
	}
	if math.Abs(r[0]-math.Log(1.1)) > 1e-12 {
		t.Fatalf("unexpected first return %v", r[0])
	}
	if r[1] != 0 || r[2] != 0 {
		t.Fatalf("non-positive prices must yield 0, got %v", r)
	}
	if ComputeLogReturns(candles(1)) != nil {
		t.Fatalf("expected nil for single candle")
	}
}

func TestWindowReturnAndStdDev(t *testing.T) {
	if got := WindowReturn(candles(100, 50, 102)); math.Abs(got-0.02) > 1e-12 {
		t.Fatalf("expected 0.02, got %v", got)
	}
	if got := StdDev([]float64{1, 1, 1}); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := StdDev([]float64{1, 3}); math.Abs(got-math.Sqrt2) > 1e-12 {
		t.Fatalf("expected sqrt2, got %v", got)
	}
}
