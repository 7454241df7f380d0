package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"QuantSync/internal/domain/models"
	domrepo "QuantSync/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

const lastBarField = "last"

// advanceLast keeps the ingestion checkpoint monotonic under concurrent writers.
const advanceLast = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (not cur) or tonumber(ARGV[2]) > tonumber(cur) then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
end
return 1`

// RedisMarkovStore keeps one hash per symbol: "FROM|TO:n" counts,
// "FROM|TO:r" return sums and the last consumed bar in unix nanos.
// HINCRBY/HINCRBYFLOAT commute, so instances sharing a Redis never lose
// increments.
type RedisMarkovStore struct {
	client *redis.Client
	prefix string
}

var _ domrepo.MarkovStore = (*RedisMarkovStore)(nil)

func NewRedisMarkovStore(client *redis.Client, prefix string) *RedisMarkovStore {
	if prefix == "" {
		prefix = "quantsync"
	}
	return &RedisMarkovStore{client: client, prefix: prefix}
}

func (s *RedisMarkovStore) key(symbol string) string {
	return s.prefix + ":markov:" + symbol
}

func (s *RedisMarkovStore) Increment(ctx context.Context, symbol string, from, to models.RegimeState, ret float64, bar time.Time) error {
	key := s.key(symbol)
	cell := string(from) + "|" + string(to)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, cell+":n", 1)
		pipe.HIncrByFloat(ctx, key, cell+":r", ret)
		if !bar.IsZero() {
			pipe.Eval(ctx, advanceLast, []string{key}, lastBarField, bar.UnixNano())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("markov increment %s: %w", symbol, err)
	}
	return nil
}

func (s *RedisMarkovStore) Load(ctx context.Context, symbol string) (domrepo.MarkovSnapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key(symbol)).Result()
	if err != nil {
		return domrepo.MarkovSnapshot{}, fmt.Errorf("markov load %s: %w", symbol, err)
	}
	return parseMarkovHash(fields)
}

func parseMarkovHash(fields map[string]string) (domrepo.MarkovSnapshot, error) {
	var snap domrepo.MarkovSnapshot
	cells := make(map[string]*domrepo.MarkovCell)
	for f, v := range fields {
		if f == lastBarField {
			ns, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return snap, fmt.Errorf("markov last bar %q: %w", v, err)
			}
			snap.LastBar = time.Unix(0, ns).UTC()
			continue
		}
		cellName, suffix, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		fromS, toS, ok := strings.Cut(cellName, "|")
		if !ok {
			continue
		}
		from, to := models.RegimeState(fromS), models.RegimeState(toS)
		if !from.Valid() || !to.Valid() {
			continue
		}
		c, ok := cells[cellName]
		if !ok {
			c = &domrepo.MarkovCell{From: from, To: to}
			cells[cellName] = c
		}
		switch suffix {
		case "n":
			n, err := strconv.Atoi(v)
			if err != nil {
				return snap, fmt.Errorf("markov count %s: %w", f, err)
			}
			c.Count = n
		case "r":
			r, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return snap, fmt.Errorf("markov return %s: %w", f, err)
			}
			c.ReturnSum = r
		}
	}
	for _, c := range cells {
		if c.Count > 0 {
			snap.Cells = append(snap.Cells, *c)
		}
	}
	return snap, nil
}
