package service

import (
	"context"

	"QuantSync/internal/domain/models"
)

// SignalProducer scores a symbol. Returning an error that wraps
// models.ErrUnavailable disables the producer for the current cycle.
type SignalProducer interface {
	Name() models.ProducerName
	Score(ctx context.Context, symbol string) (models.Signal, error)
}

// OrderExecutor places market orders. Errors are surfaced, never retried here.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, symbol string, side models.TradeSide, qty, refPrice float64) (models.OrderResult, error)
}
