package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/internal/services/ledger"
	"QuantSync/internal/services/markov"
	pkgkafka "QuantSync/pkg/kafka"
	"QuantSync/pkg/util"
)

// barMessage is the wire format of the bars topic: {symbol, t, o, h, l, c, v}.
type barMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

type barWindow struct {
	mu      sync.Mutex
	candles []models.Candle
}

// KafkaBarsHandler feeds closed bars into the Markov registry through a
// per-symbol rolling window and marks open positions to the bar close.
type KafkaBarsHandler struct {
	topic    string
	registry *markov.Registry
	ledger   *ledger.Ledger
	metrics  domrepo.Metrics
	size     int

	mu      sync.Mutex
	windows map[string]*barWindow
}

func NewKafkaBarsHandler(topic string, registry *markov.Registry, led *ledger.Ledger, metrics domrepo.Metrics, windowSize int) *KafkaBarsHandler {
	if windowSize < 2 {
		windowSize = 120
	}
	return &KafkaBarsHandler{
		topic:    topic,
		registry: registry,
		ledger:   led,
		metrics:  metrics,
		size:     windowSize,
		windows:  make(map[string]*barWindow),
	}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

func (h *KafkaBarsHandler) window(symbol string) *barWindow {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[symbol]
	if !ok {
		w = &barWindow{}
		h.windows[symbol] = w
	}
	return w
}

func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.recordError("bars_unmarshal")
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: err}
	}
	symbol := util.NormalizeSymbol(m.Symbol)
	if symbol == "" || m.T <= 0 || m.C <= 0 {
		h.recordError("bars_invalid")
		return &pkgkafka.HookError{Code: "ERR_VALIDATION", Err: fmt.Errorf("bar missing symbol, time or close: %s", string(b))}
	}
	if m.T > 1e11 { // ms
		m.T = m.T / 1000
	}
	bar := models.Candle{
		Bucket: time.Unix(m.T, 0).UTC(),
		Symbol: symbol,
		Open:   m.O,
		High:   m.H,
		Low:    m.L,
		Close:  m.C,
		Volume: m.V,
	}
	if h.metrics != nil {
		h.metrics.RecordLatency("bar_e2e_seconds", time.Since(bar.Bucket).Seconds())
	}

	w := h.window(symbol)
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.candles); n > 0 && !bar.Bucket.After(w.candles[n-1].Bucket) {
		// redelivered or out of order
		return nil
	}
	w.candles = append(w.candles, bar)
	if len(w.candles) > h.size {
		w.candles = append(w.candles[:0], w.candles[len(w.candles)-h.size:]...)
	}

	start := time.Now()
	added, err := h.registry.Ingest(ctx, symbol, w.candles)
	if h.metrics != nil {
		h.metrics.RecordLatency("markov_ingest_seconds", time.Since(start).Seconds())
	}
	if err != nil {
		h.recordError("markov_ingest")
		return fmt.Errorf("ingest bar %s: %w", symbol, err)
	}
	if added > 0 && h.metrics != nil {
		if conv, err := h.registry.Convergence(ctx, symbol); err == nil {
			h.metrics.RecordMarkovSamples(symbol, conv.SampleSize)
		}
	}

	if h.ledger != nil {
		if _, err := h.ledger.MarkToMarket(ctx, symbol, bar.Close); err != nil {
			h.recordError("mark_to_market")
			return fmt.Errorf("mark %s: %w", symbol, err)
		}
	}
	return nil
}

func (h *KafkaBarsHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
