package credstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps credentials as plain string keys under a prefix.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("[NewRedis] redis address required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "wanderwave:credentials:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "[NewRedis] Ping")
	}
	return &RedisStore{client: client, cfg: cfg}, nil
}

func (s *RedisStore) key(k Key) string {
	return s.cfg.Prefix + string(k)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[RedisStore.Get]")
	}
	return value, nil
}

// Save writes every value in one MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, values map[Key]string) error {
	if len(values) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, s.cfg.TTL)
		}
		return nil
	})
	return errors.Wrap(err, "[RedisStore.Save]")
}

func (s *RedisStore) Delete(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}
	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, s.key(k))
	}
	return errors.Wrap(s.client.Del(ctx, redisKeys...).Err(), "[RedisStore.Delete]")
}

func (s *RedisStore) Close(context.Context) error {
	return s.client.Close()
}
