// Package lease is a Redis lock that keeps replicas sharing one project from
// training the same endpoint at the same time.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// DefaultTTL bounds how long a crashed holder blocks its peers. A live
// holder keeps the lease with Extend.
const DefaultTTL = 2 * time.Minute

// ErrLost means the key expired or belongs to another holder.
var ErrLost = errors.New("lease: lost")

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend resets the expiry only while the key still holds our token.
var extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type Lease struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lease{client: client, ttl: ttl}
}

// Dial parses a redis:// URL and returns a connected client.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "lease: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "lease: ping redis")
	}
	return client, nil
}

// TryLock takes key when nobody holds it. The returned token is needed to
// unlock; ok is false when another holder has the key.
func (l *Lease) TryLock(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, eris.Wrapf(err, "lease: acquire %s", key)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if token still owns it. Releasing an expired or
// foreign lease is not an error.
func (l *Lease) Unlock(ctx context.Context, key, token string) error {
	if err := release.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return eris.Wrapf(err, "lease: release %s", key)
	}
	return nil
}

// Extend pushes the expiry of a held lease a full TTL ahead. It returns
// ErrLost when token no longer owns key.
func (l *Lease) Extend(ctx context.Context, key, token string) error {
	n, err := extend.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return eris.Wrapf(err, "lease: extend %s", key)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// TTL is the expiry set by TryLock and Extend.
func (l *Lease) TTL() time.Duration {
	return l.ttl
}

// Ping checks the Redis connection.
func (l *Lease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
