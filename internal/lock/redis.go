package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultRedisTTL   = 10 * time.Second
	defaultRedisRetry = 25 * time.Millisecond
	defaultRedisWait  = 5 * time.Second
)

// Redis is a lock shared by every instance talking to the same Redis. Each holder
// writes a random token with SET NX PX. Release only deletes the key if the token
// still matches, so an expired holder cannot free somebody else's lock.
type Redis struct {
	client *redis.Client
	script *redis.Script
	prefix string
	TTL    time.Duration
	Retry  time.Duration
	// MaxWait bounds acquisition when ctx carries no deadline.
	MaxWait time.Duration
}

var ErrLockTimeout = errors.New("timed out acquiring lock")

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if prefix == "" {
		prefix = "taskbridge:lock:"
	}
	return &Redis{
		client:  client,
		script:  redis.NewScript(releaseScript),
		prefix:  prefix,
		TTL:     ttl,
		Retry:   defaultRedisRetry,
		MaxWait: defaultRedisWait,
	}
}

// NewRedisFromURL parses a redis:// url and pings the server.
func NewRedisFromURL(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, "", ttl), nil
}

func (l *Redis) Close() error {
	return l.client.Close()
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok && l.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.MaxWait)
		defer cancel()
	}
	full := l.prefix + key
	for {
		ok, err := l.client.SetNX(ctx, full, token, l.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = l.script.Run(releaseCtx, l.client, []string{full}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s", ErrLockTimeout, key)
		case <-time.After(l.Retry):
		}
	}
}

func randomToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
