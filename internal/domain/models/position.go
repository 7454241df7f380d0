package models

import "time"

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Direction is +1 for long and -1 for short.
func (s PositionSide) Direction() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

func (s TradeSide) Valid() bool { return s == TradeBuy || s == TradeSell }

// Opposite returns the side that closes a position opened with s.
func (s TradeSide) Opposite() TradeSide {
	if s == TradeBuy {
		return TradeSell
	}
	return TradeBuy
}

// SideFor maps a decision action to the order side; HOLD has none.
func SideFor(a Action) (TradeSide, bool) {
	switch a {
	case ActionBuy:
		return TradeBuy, true
	case ActionSell:
		return TradeSell, true
	}
	return "", false
}

// Position is a full-size entry/exit pair. PnL stays nil until CLOSED and is
// never rewritten afterwards.
type Position struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	StrategyName string         `json:"strategy_name"`
	Side         PositionSide   `json:"side"`
	Status       PositionStatus `json:"status"`
	EntryPrice   float64        `json:"entry_price"`
	ExitPrice    *float64       `json:"exit_price,omitempty"`
	Quantity     float64        `json:"quantity"`
	CurrentPrice float64        `json:"current_price"`
	PnL          *float64       `json:"pnl,omitempty"`
	PhaseAtEntry int            `json:"phase_at_entry"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ClosedAt     *time.Time     `json:"closed_at,omitempty"`
}

// Trade is a confirmed fill that either opens (IsEntry) or closes a position.
type Trade struct {
	ID          string    `json:"id"`
	PositionID  string    `json:"position_id"`
	IsEntry     bool      `json:"is_entry"`
	Symbol      string    `json:"symbol"`
	Side        TradeSide `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// PositionFilter narrows position listings. Zero values mean "any".
type PositionFilter struct {
	Symbol       string
	StrategyName string
	Status       PositionStatus
	Limit        int
}

type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderPending  OrderStatus = "PENDING"
)

// OrderResult is what an order-execution adapter reports back.
type OrderResult struct {
	OrderID   string      `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Price     float64     `json:"price"`
	Quantity  float64     `json:"quantity"`
	Timestamp time.Time   `json:"timestamp"`
}
