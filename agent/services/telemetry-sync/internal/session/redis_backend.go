package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"fieldagent/agent/services/telemetry-sync/internal/models"
)

// DefaultRedisPrefix namespaces the session keys.
const DefaultRedisPrefix = "fieldagent:session:"

// RedisBackend stores the session fields under stable keys and writes them in a
// single MULTI/EXEC transaction.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend returns a redis-backed session backend.
func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(field string) string {
	return b.prefix + field
}

func (b *RedisBackend) keys() []string {
	return []string{b.key(keyUser), b.key(keyToken), b.key(keyLoginTime), b.key(keyUserType)}
}

func (b *RedisBackend) Load(ctx context.Context) (models.Session, error) {
	values, err := b.client.MGet(ctx, b.keys()...).Result()
	if err != nil {
		return models.Session{}, err
	}

	fields := make([]string, len(values))
	present := 0
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return models.Session{}, fmt.Errorf("%w: unexpected value type %T", ErrIncomplete, v)
		}
		fields[i] = s
		present++
	}
	if present == 0 {
		return models.Session{}, ErrNoSession
	}
	return decodeFields([]byte(fields[0]), fields[1], fields[2], fields[3])
}

func (b *RedisBackend) Save(ctx context.Context, session models.Session) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.key(keyUser), string(session.Identity), 0)
		pipe.Set(ctx, b.key(keyToken), session.Token, 0)
		pipe.Set(ctx, b.key(keyLoginTime), encodeTime(session.IssuedAt), 0)
		if session.UserType != "" {
			pipe.Set(ctx, b.key(keyUserType), string(session.UserType), 0)
		} else {
			pipe.Del(ctx, b.key(keyUserType))
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Delete(ctx context.Context) error {
	err := b.client.Del(ctx, b.keys()...).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
