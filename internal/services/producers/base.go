package producers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"QuantSync/internal/domain/models"
	xhttp "QuantSync/pkg/http"
)

// HTTPServiceBase centralizes client construction and JSON POST handling for
// the scoring services.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
}

// NewHTTPServiceBase builds an HTTP client with timeout and base URL.
func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: baseURL,
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

// PostJSON posts the given payload to `path` under baseURL and decodes JSON into dest.
// 404 and 204 are reported as models.ErrUnavailable.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	if b == nil || b.client == nil || b.baseURL == "" {
		return fmt.Errorf("post %s: scoring service not configured: %w", path, models.ErrUnavailable)
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}, dest)
	if err == nil {
		return nil
	}
	if errors.Is(err, xhttp.ErrNoContent) {
		return fmt.Errorf("post %s: %w", path, models.ErrUnavailable)
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("post %s: %w", path, models.ErrUnavailable)
	}
	return fmt.Errorf("post %s: %w", path, err)
}

// PostJSONWithRetry posts JSON with up to `attempts` tries. Unavailability is
// an answer, not a transient error, and is returned immediately.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
	if attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.PostJSON(ctx, path, payload, dest)
		if err == nil || errors.Is(err, models.ErrUnavailable) {
			return err
		}
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// ActionForScore maps a normalized score onto the action it implies.
func ActionForScore(score, threshold float64) models.Action {
	switch {
	case score >= threshold:
		return models.ActionBuy
	case score <= -threshold:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
