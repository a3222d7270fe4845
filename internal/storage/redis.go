package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/dgellow/authbridge/internal/log"
	"github.com/redis/go-redis/v9"
)

// Ensure RedisStorage implements Store
var _ Store = (*RedisStorage)(nil)

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 10

// RedisOptions configures RedisStorage.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStorage keeps encrypted session documents under KeyPrefix+id with a
// native Redis expiry. Updates use WATCH/MULTI.
type RedisStorage struct {
	rdb       *redis.Client
	keyPrefix string
	encryptor crypto.Encryptor
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, opts RedisOptions, encryptor crypto.Encryptor) (*RedisStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Redis", map[string]any{
		"addr": opts.Addr,
		"db":   opts.DB,
	})

	return &RedisStorage{
		rdb:       rdb,
		keyPrefix: opts.KeyPrefix,
		encryptor: encryptor,
	}, nil
}

func (s *RedisStorage) key(id string) string {
	return s.keyPrefix + id
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStorage) read(ctx context.Context, c getter, key string) ([]byte, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	plaintext, err := s.encryptor.Decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypting session: %w", err)
	}
	return []byte(plaintext), nil
}

func (s *RedisStorage) Get(ctx context.Context, id string) ([]byte, error) {
	return s.read(ctx, s.rdb, s.key(id))
}

func (s *RedisStorage) Update(ctx context.Context, id string, ttl time.Duration, fn UpdateFunc) error {
	key := s.key(id)

	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, key)
		if errors.Is(err, ErrSessionNotFound) {
			current = nil
		} else if err != nil {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		var encrypted string
		if next != nil {
			if encrypted, err = s.encryptor.Encrypt(string(next)); err != nil {
				return fmt.Errorf("encrypting session: %w", err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			pipe.Set(ctx, key, encrypted, ttl)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to update session: too much contention")
}

func (s *RedisStorage) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
