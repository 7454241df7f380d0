package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/repository/memory"
	"QuantSync/internal/services/ledger"
	"QuantSync/internal/services/markov"
	"QuantSync/internal/services/phase"

	"github.com/labstack/echo/v4"
)

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*echo.Echo, *ledger.Ledger, *markov.Registry) {
	t.Helper()
	positions := memory.NewPositionStore()
	tracker := phase.NewTracker(phase.NewController(nil))
	registry := markov.NewRegistry(markov.DefaultConfig(), memory.NewMarkovStore(), nil)
	h := NewOpsEchoHandler(nil, OpsDeps{
		Tracker:   tracker,
		Positions: positions,
		Decisions: memory.NewDecisionStore(),
		Markov:    registry,
		Instances: memory.NewInstanceStore(),
		Health: map[string]HealthCheck{
			"memory": func(context.Context) error { return nil },
		},
	})
	e := echo.New()
	h.RegisterRoutes(e)
	return e, ledger.New(positions, tracker, nil, nil), registry
}

func get(t *testing.T, e *echo.Echo, target string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s: decode: %v (%s)", target, err, rec.Body.String())
	}
	return rec.Code, env
}

func TestPhaseAndPositions(t *testing.T) {
	e, led, _ := newTestServer(t)
	pos, err := led.OpenPosition(context.Background(), "BTCUSDT", "fusion",
		models.Trade{IsEntry: true, Side: models.TradeBuy, Price: 100, Quantity: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	code, env := get(t, e, "/api/phase")
	if code != http.StatusOK {
		t.Fatalf("phase: status %d", code)
	}
	var info models.PhaseInfo
	_ = json.Unmarshal(env.Data, &info)
	if info.Phase != 0 || info.TradeCount != 1 || info.TradesNeeded != 99 {
		t.Fatalf("unexpected phase %+v", info)
	}

	code, env = get(t, e, "/api/positions?symbol=btcusdt&status=OPEN")
	if code != http.StatusOK {
		t.Fatalf("positions: status %d", code)
	}
	var list struct {
		Rows  []models.Position `json:"rows"`
		Total int64             `json:"total"`
	}
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 1 || list.Rows[0].ID != pos.ID {
		t.Fatalf("unexpected listing %+v", list)
	}

	code, env = get(t, e, "/api/positions/"+pos.ID)
	if code != http.StatusOK {
		t.Fatalf("position: status %d", code)
	}
	var view struct {
		ID     string         `json:"id"`
		Trades []models.Trade `json:"trades"`
	}
	_ = json.Unmarshal(env.Data, &view)
	if view.ID != pos.ID || len(view.Trades) != 1 || !view.Trades[0].IsEntry {
		t.Fatalf("unexpected position view %+v", view)
	}
}

func TestErrorMapping(t *testing.T) {
	e, _, _ := newTestServer(t)

	if code, _ := get(t, e, "/api/positions/missing"); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := get(t, e, "/api/positions?status=PENDING"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", code)
	}
	if code, _ := get(t, e, "/api/decisions?since=yesterday-ish"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", code)
	}
	if code, _ := get(t, e, "/api/markov/convergence"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without symbol, got %d", code)
	}
	// no consolidator and no cache
	if code, _ := get(t, e, "/api/aggregates?symbol=BTCUSDT"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestMarkovEndpoints(t *testing.T) {
	e, _, registry := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := registry.Observe(ctx, "BTCUSDT", models.StateTrendingUp, models.StateTrendingUpStrong, 0.01); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}

	code, env := get(t, e, "/api/markov/convergence?symbol=btcusdt")
	if code != http.StatusOK {
		t.Fatalf("convergence: status %d", code)
	}
	var conv models.ConvergenceMetrics
	_ = json.Unmarshal(env.Data, &conv)
	if conv.SampleSize != 4 || conv.ConvergenceStatus != models.Converging {
		t.Fatalf("unexpected convergence %+v", conv)
	}

	code, env = get(t, e, "/api/markov/chains?symbol=BTCUSDT&state=trending_up&n=200&steps=1&seed=7")
	if code != http.StatusOK {
		t.Fatalf("chains: status %d", code)
	}
	var chains chainsView
	_ = json.Unmarshal(env.Data, &chains)
	if len(chains.Distribution) == 0 || chains.Distribution[0].State != models.StateTrendingUpStrong ||
		chains.Distribution[0].Probability != 1 {
		t.Fatalf("unexpected chains %+v", chains)
	}

	if code, _ := get(t, e, "/api/markov/chains?symbol=BTCUSDT&state=MOON"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown state, got %d", code)
	}
}

func TestHealthAndInstances(t *testing.T) {
	e, _, _ := newTestServer(t)
	code, _ := get(t, e, "/health")
	if code != http.StatusOK {
		t.Fatalf("health: status %d", code)
	}
	code, env := get(t, e, "/api/instances")
	if code != http.StatusOK {
		t.Fatalf("instances: status %d", code)
	}
	var list struct {
		Total int64 `json:"total"`
	}
	_ = json.Unmarshal(env.Data, &list)
	if list.Total != 0 {
		t.Fatalf("expected no instances, got %d", list.Total)
	}
}
