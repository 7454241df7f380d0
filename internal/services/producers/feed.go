package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"QuantSync/internal/domain/models"
	"QuantSync/internal/domain/service"
	"QuantSync/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type feedScore struct {
	Symbol     string  `json:"s"`
	Producer   string  `json:"p"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"conf"`
	T          int64   `json:"t"` // ms
}

type feedMessage struct {
	Type string      `json:"type"`
	Data []feedScore `json:"data"`
}

type feedKey struct {
	symbol   string
	producer models.ProducerName
}

// FeedOptions configures the WebSocket score feed.
type FeedOptions struct {
	URL            string
	Symbols        []string
	MaxAge         time.Duration
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	AgreeThreshold float64
}

// Feed keeps the latest score per (symbol, producer) pushed by an upstream
// scoring service. Readers never block on the connection.
type Feed struct {
	opts FeedOptions
	log  *logger.Logger
	now  func() time.Time

	mu     sync.RWMutex
	latest map[feedKey]models.Signal
}

func NewFeed(opts FeedOptions, log *logger.Logger) *Feed {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 2 * time.Minute
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Feed{
		opts:   opts,
		log:    log,
		now:    time.Now,
		latest: make(map[feedKey]models.Signal),
	}
}

// Run connects, subscribes and reads until ctx is cancelled, reconnecting
// after every failure.
func (f *Feed) Run(ctx context.Context) error {
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("score feed disconnected", logger.String("url", f.opts.URL), logger.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.opts.ReconnectDelay):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	defer conn.Close()

	for _, s := range f.opts.Symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	f.log.Info("score feed connected",
		logger.String("url", f.opts.URL),
		logger.Int("symbols", len(f.opts.Symbols)),
	)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ping loop
	go func() {
		ticker := time.NewTicker(f.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()
	// unblock ReadMessage on cancellation
	go func() {
		<-sctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read: %w", err)
		}
		f.apply(b)
	}
}

// apply stores the scores of one frame and returns how many were accepted.
func (f *Feed) apply(b []byte) int {
	var m feedMessage
	if err := json.Unmarshal(b, &m); err != nil {
		// ignore non-score frames
		return 0
	}
	if m.Type != "score" {
		return 0
	}
	n := 0
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range m.Data {
		if d.Symbol == "" || d.Producer == "" {
			continue
		}
		key := feedKey{symbol: strings.ToUpper(d.Symbol), producer: models.ProducerName(d.Producer)}
		observed := time.UnixMilli(d.T).UTC()
		if d.T == 0 {
			observed = f.now().UTC()
		}
		if prev, ok := f.latest[key]; ok && prev.ObservedAt.After(observed) {
			continue
		}
		score := clamp(d.Score, -1, 1)
		f.latest[key] = models.Signal{
			ID:         uuid.NewString(),
			Symbol:     key.symbol,
			Producer:   key.producer,
			Action:     ActionForScore(score, f.opts.AgreeThreshold),
			Score:      score,
			Confidence: clamp(d.Confidence, 0, 1),
			ObservedAt: observed,
		}
		n++
	}
	return n
}

// Latest returns the freshest score, or ErrUnavailable when none arrived
// within MaxAge.
func (f *Feed) Latest(symbol string, producer models.ProducerName) (models.Signal, error) {
	f.mu.RLock()
	sig, ok := f.latest[feedKey{symbol: strings.ToUpper(symbol), producer: producer}]
	f.mu.RUnlock()
	if !ok {
		return models.Signal{}, fmt.Errorf("feed %s %s: no score: %w", producer, symbol, models.ErrUnavailable)
	}
	if age := f.now().Sub(sig.ObservedAt); age > f.opts.MaxAge {
		return models.Signal{}, fmt.Errorf("feed %s %s: score is %s old: %w", producer, symbol, age.Round(time.Second), models.ErrUnavailable)
	}
	sig.Symbol = symbol
	return sig, nil
}

// Producer exposes one producer of the feed as a SignalProducer.
func (f *Feed) Producer(name models.ProducerName) *FeedScorer {
	return &FeedScorer{feed: f, name: name}
}

type FeedScorer struct {
	feed *Feed
	name models.ProducerName
}

func (s *FeedScorer) Name() models.ProducerName { return s.name }

func (s *FeedScorer) Score(_ context.Context, symbol string) (models.Signal, error) {
	return s.feed.Latest(symbol, s.name)
}

// FirstAvailable asks each scorer in turn and returns the first answer that
// is not ErrUnavailable. Other errors stop the chain.
type FirstAvailable struct {
	name    models.ProducerName
	scorers []service.SignalProducer
}

func NewFirstAvailable(name models.ProducerName, scorers ...service.SignalProducer) *FirstAvailable {
	return &FirstAvailable{name: name, scorers: scorers}
}

func (c *FirstAvailable) Name() models.ProducerName { return c.name }

func (c *FirstAvailable) Score(ctx context.Context, symbol string) (models.Signal, error) {
	for _, s := range c.scorers {
		if s == nil {
			continue
		}
		sig, err := s.Score(ctx, symbol)
		if err == nil {
			sig.Producer = c.name
			return sig, nil
		}
		if !errors.Is(err, models.ErrUnavailable) {
			return models.Signal{}, err
		}
	}
	return models.Signal{}, fmt.Errorf("%s %s: %w", c.name, symbol, models.ErrUnavailable)
}
