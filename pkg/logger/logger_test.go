package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFieldsRenderAsJSON(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{zl: zerolog.New(&buf)}

	l.Info("decision",
		Symbol("BTCUSDT"),
		Int("phase", 2),
		Int64("seq", 7),
		Float64("confidence", 0.5),
		Bool("conflict", true),
		Duration("took", 1500*time.Millisecond),
		Strings("symbols", []string{"BTCUSDT", "ETHUSDT"}),
		Error(errors.New("boom")),
	)

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]interface{}{
		"symbol":     "BTCUSDT",
		"phase":      float64(2),
		"seq":        float64(7),
		"confidence": 0.5,
		"conflict":   true,
		"took":       float64(1500),
		"symbols":    "BTCUSDT, ETHUSDT",
		"error":      "boom",
		"message":    "decision",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := (&Logger{zl: zerolog.New(&buf)}).With(String("instance_id", "inst-a"))
	l.Warn("tick")

	var got map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["instance_id"] != "inst-a" || got["level"] != "warn" {
		t.Fatalf("unexpected entry %v", got)
	}
}
