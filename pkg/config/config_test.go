package config

import (
	"strings"
	"testing"
	"time"
)

const minimal = `
instance:
  id: inst-a
storage:
  backend: memory
trading:
  symbols: [BTCUSDT, ETHUSDT]
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Consolidation.Interval != 3*time.Minute {
		t.Fatalf("expected 3m sync interval, got %v", c.Consolidation.Interval)
	}
	if c.Markov.RecommendedMinTrades != 1000 {
		t.Fatalf("expected 1000, got %d", c.Markov.RecommendedMinTrades)
	}
	if c.Fusion.Weights.Sentiment != 0.30 {
		t.Fatalf("expected sentiment weight 0.30, got %v", c.Fusion.Weights.Sentiment)
	}
	if c.Broker.Type != "paper" {
		t.Fatalf("expected paper broker, got %s", c.Broker.Type)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal + `
fusion:
  conflict_threshold: 0.5
phase:
  min_confidence:
    2: 0.35
`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Fusion.ConflictThreshold != 0.5 {
		t.Fatalf("expected 0.5, got %v", c.Fusion.ConflictThreshold)
	}
	if c.Phase.MinConfidence[2] != 0.35 {
		t.Fatalf("expected override 0.35, got %v", c.Phase.MinConfidence[2])
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"instance.id":   "storage:\n  backend: memory\ntrading:\n  symbols: [X]\n",
		"symbols":       "instance:\n  id: a\nstorage:\n  backend: memory\n",
		"postgres.dsn":  "instance:\n  id: a\ntrading:\n  symbols: [X]\n",
		"broker.type":   minimal + "broker:\n  type: fix\n",
		"kafka.brokers": minimal + "kafka:\n  enabled: true\n",
	}
	for want, doc := range cases {
		_, err := Parse([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error mentioning %q, got %v", want, err)
		}
	}
}
