package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestEncode(t *testing.T) {
	b, err := encode(map[string]int{"a": 1})
	if err != nil || string(b) != `{"a":1}` {
		t.Fatalf("unexpected json encoding %q %v", b, err)
	}
	b, _ = encode("raw")
	if string(b) != "raw" {
		t.Fatalf("expected strings to pass through")
	}
	if _, err := encode(func() {}); err == nil {
		t.Fatalf("expected unsupported value to fail")
	}
}

func TestParseCompression(t *testing.T) {
	if parseCompression("zstd") != kafka.Zstd || parseCompression("") != kafka.Snappy {
		t.Fatalf("unexpected compression mapping")
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(); err == nil {
		t.Fatalf("expected missing brokers error")
	}
}
