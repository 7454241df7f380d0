package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestRequireJSON(t *testing.T) {
	var rejected int
	h := RequireJSON(func(string, error) { rejected++ })

	if _, _, _, err := h.BeforeHandle(context.Background(), "bars", kafka.Message{}, []byte(`{"symbol":"BTCUSDT"}`)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	for _, bad := range [][]byte{nil, []byte("{"), []byte("not json")} {
		_, _, _, err := h.BeforeHandle(context.Background(), "bars", kafka.Message{}, bad)
		var he *HookError
		if !errors.As(err, &he) || he.Code != "ERR_VALIDATION" {
			t.Fatalf("expected validation hook error for %q, got %v", bad, err)
		}
	}
	if rejected != 3 {
		t.Fatalf("expected 3 rejections, got %d", rejected)
	}
}

func TestHookFuncsNilSafe(t *testing.T) {
	var h HookFuncs
	ctx, _, data, err := h.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	if err != nil || ctx == nil || string(data) != "x" {
		t.Fatalf("expected pass-through")
	}
	h.AfterHandle(ctx, "t", kafka.Message{}, nil, nil)
	h.OnError(ctx, "t", kafka.Message{}, nil, errors.New("x"))
}
