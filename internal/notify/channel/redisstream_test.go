package channel

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newUnconnectedStream(t *testing.T, cfg RedisStreamConfig, opts ...RedisStreamOption) *RedisStream {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStream(client, cfg, opts...)
}

func TestNewRedisStreamNormalizesRetryPolicy(t *testing.T) {
	t.Run("zero policy falls back to defaults", func(t *testing.T) {
		r := newUnconnectedStream(t, RedisStreamConfig{Stream: "s", Group: "g"}, WithStreamRetry(RetryPolicy{}))
		assert.Equal(t, DefaultRetryPolicy, r.policy)
	})

	t.Run("custom policy is kept", func(t *testing.T) {
		r := newUnconnectedStream(t, RedisStreamConfig{Stream: "s", Group: "g"}, WithStreamRetry(fastRetry))
		assert.Equal(t, fastRetry, r.policy)
	})

	t.Run("connection defaults", func(t *testing.T) {
		r := newUnconnectedStream(t, RedisStreamConfig{Stream: "s", Group: "g"})
		assert.Equal(t, 2*time.Second, r.cfg.Block)
		assert.Equal(t, 2*time.Second, r.cfg.SendTimeout)
		assert.Equal(t, "materializer", r.cfg.Consumer)
	})
}

func TestXAddTrimming(t *testing.T) {
	msg := Message{Key: []byte("k"), Value: []byte("v")}

	t.Run("no trimming by default", func(t *testing.T) {
		args := newUnconnectedStream(t, RedisStreamConfig{Stream: "s"}).xaddArgs(msg)
		assert.Zero(t, args.MaxLen)
		assert.False(t, args.Approx)
		assert.Equal(t, "s", args.Stream)
	})

	t.Run("explicit cap trims approximately", func(t *testing.T) {
		args := newUnconnectedStream(t, RedisStreamConfig{Stream: "s", MaxLen: 1000}).xaddArgs(msg)
		assert.Equal(t, int64(1000), args.MaxLen)
		assert.True(t, args.Approx)
	})
}
