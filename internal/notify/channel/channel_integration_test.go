//go:build integration

package channel_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"reliefhub/internal/notify/channel"
	"reliefhub/pkg/testutil/containers"
)

type collector struct {
	mu    sync.Mutex
	byKey map[string][]string
	n     atomic.Int32
}

func newCollector() *collector { return &collector{byKey: map[string][]string{}} }

func (c *collector) Handle(_ context.Context, msg *channel.Message) error {
	c.mu.Lock()
	c.byKey[string(msg.Key)] = append(c.byKey[string(msg.Key)], string(msg.Value))
	c.mu.Unlock()
	c.n.Add(1)
	return nil
}

type RedisStreamSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisStreamSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStreamSuite))
}

func (s *RedisStreamSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStreamSuite) cfg() channel.RedisStreamConfig {
	return channel.RedisStreamConfig{
		Stream:   "notifications-" + uuid.NewString(),
		Group:    "materializer",
		Consumer: "test",
		Block:    100 * time.Millisecond,
	}
}

func (s *RedisStreamSuite) TestOrderedDeliveryPerKey() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := channel.NewRedisStream(s.redis.Client, s.cfg())
	s.Require().NoError(ch.EnsureGroup(ctx))

	for i := range 10 {
		key := fmt.Sprintf("user-%d", i%2)
		s.Require().NoError(ch.Send(ctx, channel.Message{Key: []byte(key), Value: []byte(fmt.Sprint(i))}))
	}
	col := newCollector()
	go func() { _ = ch.Run(ctx, col) }()

	s.Eventually(func() bool { return col.n.Load() == 10 }, 5*time.Second, 20*time.Millisecond)
	col.mu.Lock()
	defer col.mu.Unlock()
	s.Equal([]string{"0", "2", "4", "6", "8"}, col.byKey["user-0"])
	s.Equal([]string{"1", "3", "5", "7", "9"}, col.byKey["user-1"])
}

func (s *RedisStreamSuite) TestPendingEntriesReplayAfterRestart() {
	cfg := s.cfg()
	ch := channel.NewRedisStream(s.redis.Client, cfg, channel.WithStreamRetry(channel.RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond}))
	s.Require().NoError(ch.EnsureGroup(context.Background()))
	s.Require().NoError(ch.Send(context.Background(), channel.Message{Key: []byte("k"), Value: []byte("v")}))

	// First consumer reads the entry but never accepts it.
	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = ch.Run(ctx, channel.HandlerFunc(func(context.Context, *channel.Message) error {
			attempts.Add(1)
			return errors.New("store down")
		}))
		close(done)
	}()
	s.Eventually(func() bool { return attempts.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	col := newCollector()
	go func() { _ = ch.Run(ctx, col) }()
	s.Eventually(func() bool { return col.n.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func (s *RedisStreamSuite) TestUnconsumedEntriesAreNotTrimmed() {
	ctx := context.Background()
	cfg := s.cfg()
	ch := channel.NewRedisStream(s.redis.Client, cfg)
	s.Require().NoError(ch.EnsureGroup(ctx))

	const sent = 500
	for i := range sent {
		s.Require().NoError(ch.Send(ctx, channel.Message{Key: []byte("k"), Value: []byte(fmt.Sprint(i))}))
	}
	n, err := s.redis.Client.XLen(ctx, cfg.Stream).Result()
	s.Require().NoError(err)
	s.Equal(int64(sent), n)
}

type KafkaSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSuite))
}

func (s *KafkaSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaSuite) TestKeyedDeliveryAndCommit() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cfg := channel.KafkaConfig{
		Brokers: s.redpanda.Brokers,
		Topic:   "notifications-" + uuid.NewString(),
		Group:   "materializer-" + uuid.NewString(),
	}
	s.Require().NoError(channel.EnsureTopic(ctx, cfg.Brokers, cfg.Topic, 3, 1))
	s.Require().NoError(channel.EnsureTopic(ctx, cfg.Brokers, cfg.Topic, 3, 1), "idempotent")

	producer, err := channel.NewKafkaProducer(cfg)
	s.Require().NoError(err)
	for i := range 20 {
		key := fmt.Sprintf("user-%d", i%4)
		s.Require().NoError(producer.Send(ctx, channel.Message{Key: []byte(key), Value: []byte(fmt.Sprintf("%02d", i))}))
	}
	s.Require().NoError(producer.Close(ctx))

	consumer, err := channel.NewKafkaConsumer(cfg)
	s.Require().NoError(err)
	col := newCollector()
	runCtx, stop := context.WithCancel(ctx)
	go func() { _ = consumer.Run(runCtx, col) }()
	s.Eventually(func() bool { return col.n.Load() == 20 }, 20*time.Second, 50*time.Millisecond)
	stop()

	col.mu.Lock()
	defer col.mu.Unlock()
	s.Equal([]string{"00", "04", "08", "12", "16"}, col.byKey["user-0"])
	s.Equal([]string{"03", "07", "11", "15", "19"}, col.byKey["user-3"])
}
