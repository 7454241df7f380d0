package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	"QuantSync/internal/services/consolidation"
	"QuantSync/internal/services/markov"
	"QuantSync/internal/services/phase"
	xhttp "QuantSync/pkg/http"
	xlogger "QuantSync/pkg/logger"
	"QuantSync/pkg/util"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// OpsDeps are the read sides the ops endpoints expose. Only Tracker,
// Positions and Decisions are required.
type OpsDeps struct {
	Tracker      *phase.Tracker
	Positions    domrepo.PositionRepository
	Decisions    domrepo.DecisionRepository
	Markov       *markov.Registry
	Market       domrepo.MarketData
	Aggregates   *consolidation.AggregateCache
	Consolidator *consolidation.Consolidator
	Instances    domrepo.InstanceRegistry
	Health       map[string]HealthCheck
	HistoryBars  int
}

// OpsEchoHandler serves read-only views over persisted trading state.
type OpsEchoHandler struct {
	logger *xlogger.Logger
	deps   OpsDeps
	now    func() time.Time
}

func NewOpsEchoHandler(logger *xlogger.Logger, deps OpsDeps) *OpsEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	if deps.HistoryBars <= 0 {
		deps.HistoryBars = 120
	}
	return &OpsEchoHandler{logger: logger, deps: deps, now: time.Now}
}

func (h *OpsEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)

	g := e.Group("/api")
	g.GET("/phase", h.Phase)
	g.GET("/positions", h.Positions)
	g.GET("/positions/:id", h.Position)
	g.GET("/decisions", h.Decisions)
	g.GET("/markov/convergence", h.Convergence)
	g.GET("/markov/chains", h.Chains)
	g.GET("/aggregates", h.AggregateStats)
	g.GET("/instances", h.InstanceList)
}

// errorResponse maps domain errors onto HTTP statuses.
func (h *OpsEchoHandler) errorResponse(c echo.Context, op string, err error) error {
	var (
		dup      *models.DuplicateOpenPositionError
		notOpen  *models.PositionNotOpenError
		mismatch *models.QuantityMismatchError
	)
	switch {
	case errors.Is(err, models.ErrPositionNotFound), errors.Is(err, models.ErrDecisionNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	case errors.As(err, &dup), errors.As(err, &notOpen), errors.As(err, &mismatch):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()))
	case errors.Is(err, models.ErrUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError(err.Error()))
	}
	h.logger.Error(op+" failed", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError(op+" failed").WithError(err))
}

func (h *OpsEchoHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps.Health))
	healthy := true
	for name, check := range h.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	return xhttp.DataResponse(c, status, map[string]interface{}{
		"healthy": healthy,
		"checks":  checks,
		"time":    h.now().UTC(),
	})
}

func (h *OpsEchoHandler) Phase(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Tracker.Current())
}

func (h *OpsEchoHandler) Positions(c echo.Context) error {
	req := &models.PositionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.deps.Positions.List(c.Request().Context(), models.PositionFilter{
		Symbol:       util.NormalizeSymbol(req.Symbol),
		StrategyName: req.Strategy,
		Status:       models.PositionStatus(req.Status),
		Limit:        req.Limit,
	})
	if err != nil {
		return h.errorResponse(c, "list positions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type positionView struct {
	*models.Position
	Trades []*models.Trade `json:"trades"`
}

func (h *OpsEchoHandler) Position(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("id is required"))
	}
	ctx := c.Request().Context()
	p, err := h.deps.Positions.Get(ctx, id)
	if err != nil {
		return h.errorResponse(c, "get position", err)
	}
	trades, err := h.deps.Positions.Trades(ctx, id)
	if err != nil {
		return h.errorResponse(c, "position trades", err)
	}
	return xhttp.SuccessResponse(c, positionView{Position: p, Trades: trades})
}

func (h *OpsEchoHandler) Decisions(c echo.Context) error {
	req := &models.DecisionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f := models.DecisionFilter{Symbol: util.NormalizeSymbol(req.Symbol), Limit: req.Limit}
	if req.Since != "" {
		since, ok := xhttp.ParseSince(req.Since, h.now())
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
		f.Since = since
	}
	rows, err := h.deps.Decisions.List(c.Request().Context(), f)
	if err != nil {
		return h.errorResponse(c, "list decisions", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *OpsEchoHandler) Convergence(c echo.Context) error {
	if h.deps.Markov == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("markov predictor disabled"))
	}
	req := &models.ConvergenceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.deps.Markov.Convergence(c.Request().Context(), util.NormalizeSymbol(req.Symbol))
	if err != nil {
		return h.errorResponse(c, "markov convergence", err)
	}
	return xhttp.SuccessResponse(c, res)
}

type chainsView struct {
	Symbol       string                    `json:"symbol"`
	StartState   models.RegimeState        `json:"start_state"`
	Chains       int                       `json:"chains"`
	Steps        int                       `json:"steps"`
	Seed         int64                     `json:"seed"`
	Distribution []models.StateProbability `json:"distribution"`
}

// Chains samples end-state distributions. Without an explicit state the
// current regime is classified from recent bars.
func (h *OpsEchoHandler) Chains(c echo.Context) error {
	if h.deps.Markov == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("markov predictor disabled"))
	}
	req := &models.ChainsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	symbol := util.NormalizeSymbol(req.Symbol)

	state := models.RegimeState(strings.ToUpper(req.State))
	if state == "" {
		if h.deps.Market == nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("state is required"))
		}
		candles, err := h.deps.Market.GetLatestNCandles(ctx, symbol, h.deps.HistoryBars, domrepo.TF1m)
		if err != nil {
			return h.errorResponse(c, "price history", err)
		}
		pred, err := h.deps.Markov.Predict(ctx, symbol, candles)
		if err != nil {
			return h.errorResponse(c, "classify regime", err)
		}
		state = pred.CurrentState
	}
	if !state.Valid() {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unknown state %q", req.State))
	}

	dist, err := h.deps.Markov.EvaluateChains(ctx, symbol, state, req.N, req.Steps, req.Seed)
	if err != nil {
		return h.errorResponse(c, "evaluate chains", err)
	}
	return xhttp.SuccessResponse(c, chainsView{
		Symbol:       symbol,
		StartState:   state,
		Chains:       req.N,
		Steps:        req.Steps,
		Seed:         req.Seed,
		Distribution: dist,
	})
}

// AggregateStats serves the last pulled aggregates, reading the shared store
// on a cache miss.
func (h *OpsEchoHandler) AggregateStats(c echo.Context) error {
	req := &models.AggregatesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	symbol := util.NormalizeSymbol(req.Symbol)

	if h.deps.Aggregates != nil {
		stats, ok, err := h.deps.Aggregates.Get(ctx, symbol)
		if err != nil {
			h.logger.Warn("aggregate cache read failed", xlogger.Symbol(symbol), xlogger.Error(err))
		} else if ok {
			c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
			return xhttp.SuccessResponse(c, stats)
		}
	}
	if h.deps.Consolidator == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("consolidation disabled"))
	}
	stats, err := h.deps.Consolidator.PullAggregates(ctx, symbol)
	if err != nil {
		return h.errorResponse(c, "pull aggregates", err)
	}
	return xhttp.SuccessResponse(c, stats)
}

func (h *OpsEchoHandler) InstanceList(c echo.Context) error {
	if h.deps.Instances == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("consolidation disabled"))
	}
	rows, err := h.deps.Instances.List(c.Request().Context())
	if err != nil {
		return h.errorResponse(c, "list instances", err)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

var _ xhttp.Handler = (*OpsEchoHandler)(nil)
