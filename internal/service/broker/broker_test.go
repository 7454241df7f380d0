package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"QuantSync/internal/domain/models"
)

func TestPaperFillsAtReferencePrice(t *testing.T) {
	p := NewPaper()
	res, err := p.PlaceOrder(context.Background(), "BTCUSDT", models.TradeBuy, 0.1, 60000)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Status != models.OrderFilled || res.Price != 60000 || res.Quantity != 0.1 {
		t.Fatalf("unexpected fill %+v", res)
	}
	res2, _ := p.PlaceOrder(context.Background(), "BTCUSDT", models.TradeSell, 0.1, 61000)
	if res.OrderID != "paper-1" || res2.OrderID != "paper-2" {
		t.Fatalf("expected sequential ids, got %s %s", res.OrderID, res2.OrderID)
	}
	if _, err := p.PlaceOrder(context.Background(), "BTCUSDT", models.TradeBuy, 0, 60000); err == nil {
		t.Fatalf("expected zero quantity to be rejected")
	}
}

func TestHTTPBridge(t *testing.T) {
	var seen orderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" || r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&seen)
		if seen.Symbol == "ETHUSDT" {
			_, _ = w.Write([]byte(`{"order_id":"x2","status":"rejected","reason":"insufficient balance"}`))
			return
		}
		_, _ = w.Write([]byte(`{"order_id":"x1","status":"filled","price":60010.5,"quantity":0.1}`))
	}))
	defer srv.Close()

	b := NewHTTPBridge(srv.URL+"/", "k", 0)
	res, err := b.PlaceOrder(context.Background(), "BTCUSDT", models.TradeBuy, 0.1, 60000)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.OrderID != "x1" || res.Price != 60010.5 || res.Status != models.OrderFilled {
		t.Fatalf("unexpected result %+v", res)
	}
	if seen.ClientOrderID == "" || seen.Side != "buy" {
		t.Fatalf("unexpected request %+v", seen)
	}

	if _, err := b.PlaceOrder(context.Background(), "ETHUSDT", models.TradeSell, 1, 3000); err == nil {
		t.Fatalf("expected rejected order to surface an error")
	}

	unauth := NewHTTPBridge(srv.URL, "wrong", 0)
	if _, err := unauth.PlaceOrder(context.Background(), "BTCUSDT", models.TradeBuy, 0.1, 60000); err == nil {
		t.Fatalf("expected 401 to surface an error")
	}
}
