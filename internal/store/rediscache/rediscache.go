package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"list39.org/internal/registry"
)

const defaultPrefix = "list39:public:"

var _ registry.PublicCache = (*Cache)(nil)

// setScript writes KEYS[1] only while the generation in KEYS[2] still
// equals ARGV[1]. A missing generation counts as zero.
const setScript = `
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`

const invalidateScript = `
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
return 1
`

// client is the subset of redis commands the cache needs.
type client interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Cache stores public agent projections in Redis keyed by username. Each
// username has a generation counter next to its entry; Invalidate bumps it
// and Set refuses to write under a generation that has moved on.
type Cache struct {
	rdb    client
	closer func() error
	ttl    time.Duration
	prefix string
}

type Option func(*Cache)

func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// Open parses a redis:// URL, connects and pings the server.
func Open(ctx context.Context, redisURL string, ttl time.Duration, opts ...Option) (*Cache, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("rediscache: parse url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}
	c := newCache(rdb, ttl, opts...)
	c.closer = rdb.Close
	return c, nil
}

func newCache(rdb client, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, ttl: ttl, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// keys returns the entry and generation keys of username. The hash tag keeps
// both in one cluster slot so the scripts can touch them together.
func (c *Cache) keys(username string) []string {
	base := c.prefix + "{" + registry.NormalizeUsername(username) + "}"
	return []string{base, base + ":gen"}
}

func (c *Cache) Get(ctx context.Context, username string) (registry.CacheEntry, error) {
	vals, err := c.rdb.MGet(ctx, c.keys(username)...).Result()
	if err != nil {
		return registry.CacheEntry{}, err
	}
	if len(vals) != 2 {
		return registry.CacheEntry{}, fmt.Errorf("rediscache: unexpected MGET reply of %d values", len(vals))
	}
	var entry registry.CacheEntry
	if gen, ok := vals[1].(string); ok {
		entry.Generation, err = strconv.ParseInt(gen, 10, 64)
		if err != nil {
			return registry.CacheEntry{}, fmt.Errorf("rediscache: generation of %s: %w", username, err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return entry, nil
	}
	if err := json.Unmarshal([]byte(raw), &entry.Record); err != nil {
		return registry.CacheEntry{}, fmt.Errorf("rediscache: decode %s: %w", username, err)
	}
	entry.Hit = true
	return entry, nil
}

func (c *Cache) Set(ctx context.Context, username string, generation int64, rec registry.PublicRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	args := []any{strconv.FormatInt(generation, 10), string(raw), c.ttl.Milliseconds()}
	return c.rdb.Eval(ctx, setScript, c.keys(username), args...).Err()
}

// Invalidate drops the cached projections for usernames and bumps their
// generations; blanks are skipped.
func (c *Cache) Invalidate(ctx context.Context, usernames ...string) error {
	var errs []error
	for _, u := range usernames {
		if registry.NormalizeUsername(u) == "" {
			continue
		}
		if err := c.rdb.Eval(ctx, invalidateScript, c.keys(u)).Err(); err != nil {
			errs = append(errs, fmt.Errorf("rediscache: invalidate %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}
