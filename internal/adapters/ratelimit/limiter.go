// Package ratelimit throttles cell writes per team and actor.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// defaultPrefix namespaces limiter keys in shared stores.
const defaultPrefix = "shiftsync:ratelimit"

// Config selects the write budget and its backing store.
type Config struct {
	PerSecond int
	Store     string
	RedisURL  string
	Prefix    string
}

// Decision is the outcome of one budget check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Limiter enforces a fixed per-second budget per key.
type Limiter struct {
	limiter *limiter.Limiter
	closer  func() error
}

// New builds one limiter over the configured store.
func New(cfg Config) (*Limiter, error) {
	if cfg.PerSecond <= 0 {
		return nil, fmt.Errorf("invalid rate limit per_second: %d", cfg.PerSecond)
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", StoreMemory:
		return NewWithStore(memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          prefix,
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		}), cfg.PerSecond)
	case StoreRedis:
		opts, err := redis.ParseURL(strings.TrimSpace(cfg.RedisURL))
		if err != nil {
			return nil, fmt.Errorf("parse rate limit redis url: %w", err)
		}
		client := redis.NewClient(opts)
		store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:   prefix,
			MaxRetry: 3,
		})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
		l, err := NewWithStore(store, cfg.PerSecond)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		l.closer = client.Close
		return l, nil
	default:
		return nil, fmt.Errorf("invalid rate limit store %q", cfg.Store)
	}
}

// NewWithStore builds one limiter over an existing store.
func NewWithStore(store limiter.Store, perSecond int) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	rate, err := limiter.NewRateFromFormatted(strconv.Itoa(perSecond) + "-S")
	if err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	return &Limiter{limiter: limiter.New(store, rate)}, nil
}

// Allow consumes one unit of the key's budget.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := l.limiter.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     lctx.Limit,
		Remaining: lctx.Remaining,
		Reset:     time.Unix(lctx.Reset, 0).UTC(),
	}, nil
}

// Close releases the backing store client, if any.
func (l *Limiter) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer()
}

// Key builds the per-writer budget key.
func Key(team, actor string) string {
	return "write:" + strings.TrimSpace(team) + ":" + strings.TrimSpace(actor)
}
