package captcha

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// redeemScript compares and deletes in one step so a code can be redeemed only once.
// Returns -1 when the key is missing, 0 on mismatch, 1 on success.
var redeemScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisBackend stores challenges in Redis; expiry is delegated to key TTLs.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisBackend creates a Redis backed store. A non-positive ttl keeps keys until redeemed.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl, prefix: "captcha:"}
}

func (r *RedisBackend) key(id string) string {
	return r.prefix + id
}

func (r *RedisBackend) Save(ctx context.Context, id, code string, _ time.Time) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := r.client.SetNX(ctx, r.key(id), code, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateID
	}
	return nil
}

func (r *RedisBackend) Check(ctx context.Context, id, attempt string, _ time.Time) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	v, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return NotFound, nil
	}
	if err != nil {
		return NotFound, err
	}
	if v != attempt {
		return Mismatch, nil
	}
	return Success, nil
}

func (r *RedisBackend) Redeem(ctx context.Context, id, attempt string, _ time.Time) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	res, err := redeemScript.Run(ctx, r.client, []string{r.key(id)}, attempt).Int()
	if err != nil {
		return NotFound, err
	}
	switch res {
	case 1:
		return Success, nil
	case 0:
		return Mismatch, nil
	default:
		return NotFound, nil
	}
}

// Sweep is a no-op: Redis expires keys on its own.
func (r *RedisBackend) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
