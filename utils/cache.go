package utils

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = time.Minute

// PostCache keeps rendered post views in Redis. A nil client turns every call into a miss.
type PostCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPostCache creates a cache; client may be nil.
func NewPostCache(client *redis.Client, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &PostCache{client: client, ttl: ttl}
}

// Every post has a generation counter bumped by Invalidate, and InvalidateAll bumps a
// shared epoch. A reader captures both before touching the database and Set refuses to
// store its view if either moved, so a write that lands mid-read never leaves a stale view.
const (
	postViewPrefix = "cache:post:"
	postGenPrefix  = "cache:postgen:"
	cacheEpochKey  = "cache:epoch"
)

var errStaleView = errors.New("post changed while loading")

func postCacheKey(identifier string) string {
	return postViewPrefix + identifier
}

func postGenKey(identifier string) string {
	return postGenPrefix + identifier
}

// Get loads a cached view into out. It reports false on miss or any Redis error.
func (c *PostCache) Get(ctx context.Context, identifier string, out interface{}) bool {
	if c == nil || c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := c.client.Get(ctx, postCacheKey(identifier)).Bytes()
	if err != nil {
		if err != redis.Nil {
			Sugar.Debugf("cache get miss key=%s err=%v", postCacheKey(identifier), err)
		}
		return false
	}
	return json.Unmarshal(b, out) == nil
}

// Generation returns the token a later Set must present. Take it before reading the
// database. An empty token means the cache is unavailable and Set will do nothing.
func (c *PostCache) Generation(ctx context.Context, identifier string) string {
	if c == nil || c.client == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	token, err := generation(ctx, c.client, identifier)
	if err != nil {
		Sugar.Debugf("cache generation failed key=%s err=%v", postGenKey(identifier), err)
		return ""
	}
	return token
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func generation(ctx context.Context, r multiGetter, identifier string) (string, error) {
	vals, err := r.MGet(ctx, cacheEpochKey, postGenKey(identifier)).Result()
	if err != nil {
		return "", err
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = "0"
		if s, ok := v.(string); ok {
			parts[i] = s
		}
	}
	return strings.Join(parts, ":"), nil
}

// Set stores v as JSON, unless the post was invalidated since gen was taken.
func (c *PostCache) Set(ctx context.Context, identifier, gen string, v interface{}) {
	if c == nil || c.client == nil || gen == "" {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := generation(ctx, tx, identifier)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleView
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, postCacheKey(identifier), b, c.ttl)
			return nil
		})
		return err
	}, cacheEpochKey, postGenKey(identifier))
	switch {
	case err == nil:
	case errors.Is(err, errStaleView), errors.Is(err, redis.TxFailedErr):
		Sugar.Debugf("cache set skipped key=%s: %v", postCacheKey(identifier), err)
	default:
		Sugar.Warnf("cache set failed key=%s err=%v", postCacheKey(identifier), err)
	}
}

// Invalidate drops the cached view after any write to the post.
func (c *PostCache) Invalidate(ctx context.Context, identifier string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, postGenKey(identifier))
		pipe.Expire(ctx, postGenKey(identifier), c.genTTL())
		pipe.Del(ctx, postCacheKey(identifier))
		return nil
	})
	if err != nil {
		Sugar.Warnf("cache invalidate failed key=%s err=%v", postCacheKey(identifier), err)
	}
}

// genTTL outlives any view stored under the old generation. An expired counter reads as
// zero, which never matches a token taken after an increment.
func (c *PostCache) genTTL() time.Duration {
	return 2 * c.ttl
}

// InvalidateAll bumps the shared epoch and drops every cached post view using SCAN.
func (c *PostCache) InvalidateAll(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.client.Incr(ctx, cacheEpochKey).Err(); err != nil {
		Sugar.Warnf("cache epoch bump failed err=%v", err)
	}
	var cursor uint64
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := c.client.Scan(ctx, cursor, postCacheKey("*"), 1000).Result()
		if err != nil {
			break
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := c.client.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			break
		}
	}
}
