package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"QuantSync/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisList publishes messages onto capped Redis lists, one list per
// message type. Readers drain with BRPOP/LRANGE; the cap bounds memory when
// nobody reads.
type RedisList struct {
	logger    *logger.Logger
	client    *redis.Client
	keyPrefix string
	source    string
	maxLen    int64
	seq       atomic.Uint64
	now       func() time.Time
}

// RedisListOption configures RedisList.
type RedisListOption func(*RedisList)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisListOption {
	return func(r *RedisList) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// WithMaxLen caps every list; older entries are trimmed on publish.
func WithMaxLen(n int64) RedisListOption {
	return func(r *RedisList) {
		if n > 0 {
			r.maxLen = n
		}
	}
}

// WithSource stamps every envelope with the publishing instance.
func WithSource(source string) RedisListOption {
	return func(r *RedisList) { r.source = source }
}

// NewRedisList creates a list publisher.
func NewRedisList(lgr *logger.Logger, client *redis.Client, opts ...RedisListOption) *RedisList {
	if lgr == nil {
		lgr = logger.Nop()
	}
	r := &RedisList{
		logger:    lgr,
		client:    client,
		keyPrefix: "quantsync:queue",
		maxLen:    10000,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks the connection.
func (r *RedisList) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Enqueue pushes one message and trims the list in the same round trip.
func (r *RedisList) Enqueue(ctx context.Context, msgType string, payload interface{}) error {
	now := r.now().UTC()
	msg := Message{
		ID:        fmt.Sprintf("%d-%d", now.UnixNano(), r.seq.Add(1)),
		Type:      msgType,
		Source:    r.source,
		Payload:   payload,
		Timestamp: now,
	}
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	key := r.Key(msgType)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

// PublishMessage implements QueueService.
func (r *RedisList) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	return r.Enqueue(ctx, msgType, payload)
}

// Key returns the list key for a message type.
func (r *RedisList) Key(msgType string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, msgType)
}

var _ QueueService = (*RedisList)(nil)
