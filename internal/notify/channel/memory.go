package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Memory is an in-process channel. Messages queue in FIFO order for as long
// as the process lives, whether or not a consumer is running.
type Memory struct {
	mu      sync.Mutex
	queue   []Message
	signal  chan struct{}
	running bool
	closed  bool

	policy RetryPolicy
	logger *slog.Logger
}

type MemoryOption func(*Memory)

func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

func WithMemoryRetry(p RetryPolicy) MemoryOption {
	return func(m *Memory) { m.policy = p }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		signal: make(chan struct{}, 1),
		policy: DefaultRetryPolicy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var errMemoryClosed = errors.New("memory channel closed")

func (m *Memory) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMemoryClosed
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

// Close stops accepting messages. Queued messages remain for a running consumer.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len reports queued, unacknowledged messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Run delivers messages one at a time. A message leaves the queue only after
// the handler accepts it.
func (m *Memory) Run(ctx context.Context, h Handler) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrConsumerRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	for {
		msg, ok := m.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-m.signal:
				continue
			}
		}
		if err := deliver(ctx, h, &msg, m.policy, m.logger); err != nil {
			// only cancellation ends deliver with an error
			return nil
		}
		m.pop()
	}
}

func (m *Memory) peek() (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Message{}, false
	}
	return m.queue[0], true
}

func (m *Memory) pop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[0] = Message{}
	m.queue = m.queue[1:]
}
