package producers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"QuantSync/internal/domain/models"

	"github.com/google/uuid"
)

type scoreRequest struct {
	Symbol string `json:"symbol"`
}

type scoreResponse struct {
	Symbol     string     `json:"symbol"`
	Score      *float64   `json:"score"`
	Confidence *float64   `json:"confidence"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// HTTPScorer asks a remote scoring service for one producer's opinion.
// Used for sentiment, order book and mathematical intuition.
type HTTPScorer struct {
	name      models.ProducerName
	path      string
	base      *HTTPServiceBase
	threshold float64
	attempts  int
	now       func() time.Time
}

func NewHTTPScorer(name models.ProducerName, path string, base *HTTPServiceBase, agreeThreshold float64) *HTTPScorer {
	return &HTTPScorer{
		name:      name,
		path:      path,
		base:      base,
		threshold: agreeThreshold,
		attempts:  2,
		now:       time.Now,
	}
}

func (s *HTTPScorer) Name() models.ProducerName { return s.name }

func (s *HTTPScorer) Score(ctx context.Context, symbol string) (models.Signal, error) {
	var resp scoreResponse
	if err := s.base.PostJSONWithRetry(ctx, s.path, scoreRequest{Symbol: symbol}, &resp, s.attempts); err != nil {
		return models.Signal{}, fmt.Errorf("%s score %s: %w", s.name, symbol, err)
	}
	if resp.Score == nil || resp.Confidence == nil {
		return models.Signal{}, fmt.Errorf("%s score %s: empty payload: %w", s.name, symbol, models.ErrUnavailable)
	}
	if resp.Symbol != "" && !strings.EqualFold(resp.Symbol, symbol) {
		return models.Signal{}, fmt.Errorf("%s score: asked for %s, got %s", s.name, symbol, resp.Symbol)
	}

	observed := s.now().UTC()
	if resp.ObservedAt != nil && !resp.ObservedAt.IsZero() {
		observed = resp.ObservedAt.UTC()
	}
	score := clamp(*resp.Score, -1, 1)
	sig := models.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Producer:   s.name,
		Action:     ActionForScore(score, s.threshold),
		Score:      score,
		Confidence: clamp(*resp.Confidence, 0, 1),
		ObservedAt: observed,
	}
	return sig, nil
}
