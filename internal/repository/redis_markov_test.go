package repository

import (
	"testing"
	"time"

	"QuantSync/internal/domain/models"
)

func TestParseMarkovHash(t *testing.T) {
	bar := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	fields := map[string]string{
		"TRENDING_UP|SIDEWAYS_LOW_VOL:n": "3",
		"TRENDING_UP|SIDEWAYS_LOW_VOL:r": "0.0125",
		"SIDEWAYS_LOW_VOL|TRENDING_UP:n": "1",
		"BOGUS|TRENDING_UP:n":            "7",
		"last":                           "1709287200000000000",
	}
	snap, err := parseMarkovHash(fields)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !snap.LastBar.Equal(bar) {
		t.Fatalf("expected last bar %v, got %v", bar, snap.LastBar)
	}
	if len(snap.Cells) != 2 {
		t.Fatalf("expected 2 valid cells, got %d", len(snap.Cells))
	}
	for _, c := range snap.Cells {
		if c.From == models.StateTrendingUp && c.To == models.StateSidewaysLowVol {
			if c.Count != 3 || c.ReturnSum != 0.0125 {
				t.Fatalf("unexpected cell %+v", c)
			}
		}
	}
	if _, err := parseMarkovHash(map[string]string{"last": "soon"}); err == nil {
		t.Fatalf("expected malformed checkpoint to fail")
	}
}
