// Package channel moves notification events from producers to the single
// materializer consumer group. Transports are durable to the extent of their
// backing store, deliver at least once, and keep per-key order.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Message is one record on the channel.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer enqueues without waiting for consumers.
type Producer interface {
	Send(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// Handler processes one message. A non-nil error means "not handled": the
// consumer retries the same message and does not advance past it.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Consumer drains the channel until ctx is done. Run returns nil on cancellation.
type Consumer interface {
	Run(ctx context.Context, h Handler) error
}

// ErrConsumerRunning is returned when a second Run is started on a consumer
// that allows only one.
var ErrConsumerRunning = errors.New("consumer already running")

// RetryPolicy bounds the pause between handler retries. Retries continue
// until the handler succeeds or the context ends.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetryPolicy is used when a consumer is built without one.
var DefaultRetryPolicy = RetryPolicy{Initial: 100 * time.Millisecond, Max: 10 * time.Second}

func (p RetryPolicy) orDefault() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max < p.Initial {
		p.Max = max(DefaultRetryPolicy.Max, p.Initial)
	}
	return p
}

// deliver runs h until it succeeds. It returns ctx.Err() if the context ends first.
func deliver(ctx context.Context, h Handler, msg *Message, policy RetryPolicy, logger *slog.Logger) error {
	policy = policy.orDefault()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.Initial
	eb.MaxInterval = policy.Max
	eb.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := h.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		logger.WarnContext(ctx, "notification handler failed, retrying",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"attempt", attempt,
			"error", err,
		)
		return err
	}, backoff.WithContext(eb, ctx))
}
