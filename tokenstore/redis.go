package tokenstore

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the session under two string keys. Both keys are always
// written by one MSET and removed by one DEL.
type RedisStore struct {
	redis redis.UniversalClient
	keys  Keys
}

// NewRedisStore scopes the store to profile under prefix (see [KeyLayout]).
func NewRedisStore(client redis.UniversalClient, prefix, profile string) *RedisStore {
	return &RedisStore{
		redis: client,
		keys:  KeyLayout(prefix, profile),
	}
}

// Keys returns the key layout in use.
func (s *RedisStore) Keys() Keys {
	return s.keys
}

func (s *RedisStore) Save(ctx context.Context, token, email string) error {
	if err := checkRecord(token, email); err != nil {
		return err
	}
	if err := s.redis.MSet(ctx, s.keys.Token, token, s.keys.User, email).Err(); err != nil {
		return unavailable("save", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.keys.Token, s.keys.User).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// Load reads both keys with one MGET. A half-present pair (written by something
// other than this package) is reported as absent.
func (s *RedisStore) Load(ctx context.Context) (Record, bool, error) {
	vals, err := s.redis.MGet(ctx, s.keys.Token, s.keys.User).Result()
	if err != nil {
		return Record{}, false, unavailable("load", err)
	}
	if len(vals) != 2 {
		return Record{}, false, nil
	}

	token, _ := vals[0].(string)
	email, _ := vals[1].(string)
	if token == "" || email == "" {
		return Record{}, false, nil
	}
	return Record{Token: token, Email: email}, true, nil
}

func (s *RedisStore) Token(ctx context.Context) (string, bool, error) {
	return tokenOf(ctx, s)
}

func (s *RedisStore) UserEmail(ctx context.Context) (string, bool, error) {
	return emailOf(ctx, s)
}
