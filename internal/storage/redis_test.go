package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgellow/authbridge/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)

	encryptor, err := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	require.NoError(t, err)

	s, err := NewRedisStorage(context.Background(), RedisOptions{
		Addr:      mini.Addr(),
		KeyPrefix: "test:session:",
	}, encryptor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mini
}

func TestRedisStorage_RoundTripEncrypted(t *testing.T) {
	ctx := context.Background()
	s, mini := newTestRedis(t)

	require.NoError(t, s.Update(ctx, "sid", time.Hour, func(current []byte) ([]byte, error) {
		assert.Nil(t, current)
		return []byte(`{"github":{"accessToken":"gho_secret"}}`), nil
	}))

	raw, err := mini.Get("test:session:sid")
	require.NoError(t, err)
	assert.NotContains(t, raw, "gho_secret")
	assert.Equal(t, time.Hour, mini.TTL("test:session:sid"))

	got, err := s.Get(ctx, "sid")
	require.NoError(t, err)
	assert.JSONEq(t, `{"github":{"accessToken":"gho_secret"}}`, string(got))
}

func TestRedisStorage_DeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	s, mini := newTestRedis(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.Update(ctx, "sid", time.Hour, func([]byte) ([]byte, error) { return []byte("v"), nil }))
	require.NoError(t, s.Update(ctx, "sid", time.Hour, func(current []byte) ([]byte, error) {
		assert.Equal(t, "v", string(current))
		return nil, nil
	}))
	assert.False(t, mini.Exists("test:session:sid"))

	require.NoError(t, s.Delete(ctx, "sid"))
}

func TestRedisStorage_Expiry(t *testing.T) {
	ctx := context.Background()
	s, mini := newTestRedis(t)

	require.NoError(t, s.Update(ctx, "sid", time.Minute, func([]byte) ([]byte, error) { return []byte("v"), nil }))
	mini.FastForward(2 * time.Minute)

	_, err := s.Get(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStorage_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedis(t)

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, "counter", time.Hour, func(current []byte) ([]byte, error) {
				return append(current, 'x'), nil
			}))
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestNewRedisStorage_Validation(t *testing.T) {
	_, err := NewRedisStorage(context.Background(), RedisOptions{Addr: "localhost:6379"}, nil)
	assert.ErrorContains(t, err, "encryptor is required")

	encryptor, _ := crypto.NewEncryptor([]byte("test-encryption-key-32-bytes-ok!"))
	_, err = NewRedisStorage(context.Background(), RedisOptions{}, encryptor)
	assert.ErrorContains(t, err, "redis addr is required")
}
