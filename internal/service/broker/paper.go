package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
)

// Paper fills every market order in full at the caller's reference price.
// Order ids are sequential so runs are reproducible.
type Paper struct {
	mu  sync.Mutex
	seq int64
	now func() time.Time
}

func NewPaper() *Paper { return &Paper{now: time.Now} }

func (p *Paper) Name() string { return "paper" }

func (p *Paper) PlaceOrder(ctx context.Context, symbol string, side models.TradeSide, qty, refPrice float64) (models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderResult{}, err
	}
	if !side.Valid() {
		return models.OrderResult{}, fmt.Errorf("paper order %s: invalid side %q", symbol, side)
	}
	if qty <= 0 || refPrice <= 0 {
		return models.OrderResult{}, fmt.Errorf("paper order %s: quantity and reference price must be > 0", symbol)
	}
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)
	p.mu.Unlock()

	return models.OrderResult{
		OrderID:   id,
		Status:    models.OrderFilled,
		Price:     refPrice,
		Quantity:  qty,
		Timestamp: p.now().UTC(),
	}, nil
}
