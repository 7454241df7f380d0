package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"
	pkgch "QuantSync/pkg/clickhouse"
	applogger "QuantSync/pkg/logger"
)

// CHMarketData implements MarketData over the rt_candles_* tables.
type CHMarketData struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHMarketData(ch *pkgch.Client, database string) *CHMarketData {
	if database == "" {
		database = "default"
	}
	return &CHMarketData{db: ch.DB(), database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHMarketData) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHMarketData) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	src, err := s.source(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s
        WHERE symbol = ? AND bucket >= ? AND bucket <= ?
        ORDER BY bucket ASC
    `, src)
	return s.query(ctx, "get_candles", q, tf, false, symbol, from.UTC(), to.UTC())
}

func (s *CHMarketData) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	src, err := s.source(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?
    `, src)
	return s.query(ctx, "latest_candles", q, tf, true, symbol, n)
}

// source returns the table (or subquery) for a timeframe. 5m bars are folded
// from the 1m table.
func (s *CHMarketData) source(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1s:
		return s.database + ".rt_candles_1s", nil
	case domrepo.TF1m:
		return s.database + ".rt_candles_1m", nil
	case domrepo.TF5m:
		return fmt.Sprintf(`(
            SELECT five AS bucket, symbol, o AS open, h AS high, l AS low, c AS close, v AS vol
            FROM (
                SELECT toStartOfFiveMinutes(bucket) AS five, symbol,
                       argMin(open, bucket) AS o, max(high) AS h, min(low) AS l,
                       argMax(close, bucket) AS c, sum(vol) AS v
                FROM %s.rt_candles_1m
                GROUP BY symbol, five
            )
        )`, s.database), nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

func (s *CHMarketData) query(ctx context.Context, op, q string, tf domrepo.Timeframe, reverse bool, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	symbol, _ := args[0].(string)
	fields := []applogger.Field{
		applogger.String("op", op),
		applogger.Symbol(symbol),
		applogger.String("tf", string(tf)),
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 128)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse scan error", append(fields, applogger.Error(err))...)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Bucket = c.Bucket.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse rows error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("rows: %w", err)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	s.l.Debug("clickhouse candles ok", append(fields,
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)...)
	return out, nil
}
