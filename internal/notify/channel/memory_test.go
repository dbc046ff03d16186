package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) Handle(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(msg.Value))
	return nil
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestMemoryKeepsMessagesWhileConsumerIsOffline(t *testing.T) {
	ch := NewMemory(WithMemoryRetry(fastRetry), WithMemoryLogger(quietLogger()))
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, ch.Send(ctx, Message{Key: []byte("user-1"), Value: []byte(fmt.Sprint(i))}))
	}
	assert.Equal(t, 5, ch.Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- ch.Run(runCtx, rec) }()

	require.Eventually(t, func() bool { return len(rec.values()) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, rec.values(), "order is preserved")

	require.NoError(t, ch.Send(ctx, Message{Value: []byte("late")}))
	require.Eventually(t, func() bool { return len(rec.values()) == 6 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, ch.Len())
}

func TestMemoryRetriesWithoutSkipping(t *testing.T) {
	ch := NewMemory(WithMemoryRetry(fastRetry), WithMemoryLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ch.Send(ctx, Message{Value: []byte("first")}))
	require.NoError(t, ch.Send(ctx, Message{Value: []byte("second")}))

	var attempts atomic.Int32
	var mu sync.Mutex
	var order []string
	h := HandlerFunc(func(_ context.Context, msg *Message) error {
		if string(msg.Value) == "first" && attempts.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		mu.Lock()
		order = append(order, string(msg.Value))
		mu.Unlock()
		return nil
	})
	go func() { _ = ch.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestMemoryUnackedMessageSurvivesConsumerStop(t *testing.T) {
	ch := NewMemory(WithMemoryRetry(fastRetry), WithMemoryLogger(quietLogger()))
	require.NoError(t, ch.Send(context.Background(), Message{Value: []byte("x")}))

	ctx, cancel := context.WithCancel(context.Background())
	failing := HandlerFunc(func(context.Context, *Message) error { return errors.New("down") })
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx, failing) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, ch.Len(), "message is redelivered to the next consumer")
}

func TestMemorySingleConsumer(t *testing.T) {
	ch := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Run(ctx, &recorder{}) }()

	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.running
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, ch.Run(ctx, &recorder{}), ErrConsumerRunning)
}

func TestMemoryRejectsSendAfterClose(t *testing.T) {
	ch := NewMemory()
	require.NoError(t, ch.Close(context.Background()))
	assert.Error(t, ch.Send(context.Background(), Message{}))
}

func TestRetryPolicyDefaults(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy, RetryPolicy{}.orDefault())
	assert.Equal(t, RetryPolicy{Initial: time.Second, Max: 10 * time.Second}, RetryPolicy{Initial: time.Second}.orDefault())
	custom := RetryPolicy{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	assert.Equal(t, custom, custom.orDefault())
}
