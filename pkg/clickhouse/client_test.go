package clickhouse

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{Host: "ch", Port: 9000, Database: "market", User: "u", Password: "p@ss",
		DialTimeout: 5 * time.Second, MaxExecTime: time.Minute}
	dsn := buildDSN(cfg)
	if !strings.HasPrefix(dsn, "clickhouse://u:p%40ss@ch:9000/market?") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	if !strings.Contains(dsn, "dial_timeout=5s") || !strings.Contains(dsn, "max_execution_time=60") {
		t.Fatalf("missing query params in %s", dsn)
	}
	cfg.UseHTTP = true
	if !strings.HasPrefix(buildDSN(cfg), "http://") {
		t.Fatalf("expected http scheme")
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatalf("expected missing host error")
	}
}
