package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QuantSync/internal/domain/models"
	xhttp "QuantSync/pkg/http"

	"github.com/google/uuid"
)

type orderRequest struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	RefPrice      float64 `json:"ref_price,omitempty"`
}

type orderResponse struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HTTPBridge sends market orders to an execution sidecar:
//
//	POST {base}/orders {client_order_id, symbol, side, quantity, ref_price}
type HTTPBridge struct {
	base   string
	apiKey string
	client *xhttp.Client
}

func NewHTTPBridge(base, apiKey string, timeout time.Duration) *HTTPBridge {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBridge{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		apiKey: apiKey,
		client: xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

func (b *HTTPBridge) Name() string { return "http-bridge" }

func (b *HTTPBridge) PlaceOrder(ctx context.Context, symbol string, side models.TradeSide, qty, refPrice float64) (models.OrderResult, error) {
	if !side.Valid() {
		return models.OrderResult{}, fmt.Errorf("place order %s: invalid side %q", symbol, side)
	}
	if qty <= 0 {
		return models.OrderResult{}, fmt.Errorf("place order %s: quantity must be > 0", symbol)
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if b.apiKey != "" {
		headers["X-API-Key"] = b.apiKey
	}

	var out orderResponse
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.base + "/orders",
		Headers: headers,
		Body: orderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          string(side),
			Quantity:      qty,
			RefPrice:      refPrice,
		},
	}, &out)
	if err != nil {
		return models.OrderResult{}, fmt.Errorf("place order %s %s: %w", side, symbol, err)
	}

	res := models.OrderResult{
		OrderID:   out.OrderID,
		Status:    models.OrderStatus(strings.ToUpper(out.Status)),
		Price:     out.Price,
		Quantity:  out.Quantity,
		Timestamp: out.Timestamp.UTC(),
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	switch res.Status {
	case models.OrderFilled:
		if res.Price <= 0 || res.Quantity <= 0 {
			return res, fmt.Errorf("place order %s: filled without price/quantity", symbol)
		}
	case models.OrderRejected:
		return res, fmt.Errorf("place order %s rejected: %s", symbol, out.Reason)
	case models.OrderPending:
		return res, fmt.Errorf("place order %s: not filled (order %s pending)", symbol, res.OrderID)
	default:
		return res, fmt.Errorf("place order %s: unknown status %q", symbol, out.Status)
	}
	return res, nil
}
