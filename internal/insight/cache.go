package insight

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long a cached reply is reused.
const DefaultCacheTTL = 15 * time.Minute

// CachedCompleter serves repeated requests from Redis and forwards misses to
// the wrapped Completer. Concurrent misses for the same request share one
// upstream call. Cache errors degrade to a direct call.
type CachedCompleter struct {
	next     Completer
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	inflight singleflight.Group
}

// NewCachedCompleter wraps next with a Redis cache under prefix.
func NewCachedCompleter(next Completer, client *redis.Client, prefix string, ttl time.Duration) *CachedCompleter {
	if prefix == "" {
		prefix = "fmeacore:insight"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedCompleter{next: next, client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *CachedCompleter) key(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	h.Write([]byte(req.User))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(float64(req.Temperature), 'f', -1, 32)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(req.MaxTokens)))
	return c.prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

// Complete implements Completer.
func (c *CachedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	key := c.key(req)
	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		slog.Warn("insight cache read failed", "error", err)
	}
	v, err, _ := c.inflight.Do(key, func() (any, error) {
		reply, err := c.next.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if err := c.client.Set(ctx, key, reply, c.ttl).Err(); err != nil {
			slog.Warn("insight cache write failed", "error", err)
		}
		return reply, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

var _ Completer = (*CachedCompleter)(nil)
