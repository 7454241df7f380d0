package models

// Requests for ops HTTP endpoints. Defined in domain for consistency and reuse.

type PositionsRequest struct {
	Symbol   string `query:"symbol" json:"symbol"`
	Strategy string `query:"strategy" json:"strategy"`
	Status   string `query:"status" json:"status" validate:"omitempty,oneof=OPEN CLOSED"`
	Limit    int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type DecisionsRequest struct {
	Symbol string `query:"symbol" json:"symbol"`
	Since  string `query:"since" json:"since"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type ConvergenceRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type ChainsRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	State  string `query:"state" json:"state"`
	N      int    `query:"n" json:"n" default:"500" validate:"gte=1,lte=100000"`
	Steps  int    `query:"steps" json:"steps" default:"1" validate:"gte=1,lte=50"`
	Seed   int64  `query:"seed" json:"seed" default:"42"`
}

type AggregatesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}
