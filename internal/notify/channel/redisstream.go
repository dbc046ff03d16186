package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStreamConfig addresses one stream and its consumer group.
type RedisStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxLen caps the stream with approximate XADD trimming. Trimming ignores
	// the consumer group, so entries not yet acknowledged can be evicted.
	// Zero keeps every entry until it is trimmed out of band.
	MaxLen      int64
	Block       time.Duration
	SendTimeout time.Duration
}

const (
	fieldKey   = "key"
	fieldValue = "value"
)

// RedisStream is a channel over a Redis stream. Entries stay pending until the
// handler accepts them; a restarted consumer replays its own pending entries
// before reading new ones.
//
// Per-key order holds while one consumer name is active for the group.
type RedisStream struct {
	client *redis.Client
	cfg    RedisStreamConfig
	policy RetryPolicy
	logger *slog.Logger
}

type RedisStreamOption func(*RedisStream)

func WithStreamLogger(logger *slog.Logger) RedisStreamOption {
	return func(r *RedisStream) { r.logger = logger }
}

func WithStreamRetry(p RetryPolicy) RedisStreamOption {
	return func(r *RedisStream) { r.policy = p }
}

func NewRedisStream(client *redis.Client, cfg RedisStreamConfig, opts ...RedisStreamOption) *RedisStream {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "materializer"
	}
	r := &RedisStream{client: client, cfg: cfg, policy: DefaultRetryPolicy, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.policy = r.policy.orDefault()
	return r
}

func (r *RedisStream) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SendTimeout)
	defer cancel()

	args := r.xaddArgs(msg)
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.cfg.Stream, err)
	}
	return nil
}

func (r *RedisStream) xaddArgs(msg Message) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{fieldKey: string(msg.Key), fieldValue: string(msg.Value)},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	return args
}

// Close is a no-op; the shared client is closed by its owner.
func (r *RedisStream) Close(context.Context) error { return nil }

// EnsureGroup creates the stream and group if missing.
func (r *RedisStream) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", r.cfg.Group, r.cfg.Stream, err)
	}
	return nil
}

func (r *RedisStream) Run(ctx context.Context, h Handler) error {
	if err := r.EnsureGroup(ctx); err != nil {
		return err
	}

	// "0" pages through this consumer's pending entries; ">" reads new ones.
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}
		replaying := cursor != ">"
		args := &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.Stream, cursor},
			Count:    64,
		}
		if !replaying {
			args.Block = r.cfg.Block
		}
		streams, err := r.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			r.logger.WarnContext(ctx, "xreadgroup failed", "stream", r.cfg.Stream, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.policy.Initial):
			}
			continue
		}

		var entries []redis.XMessage
		if len(streams) > 0 {
			entries = streams[0].Messages
		}
		if replaying && len(entries) == 0 {
			cursor = ">"
			continue
		}
		for _, entry := range entries {
			msg := &Message{Topic: r.cfg.Stream, Key: []byte(field(entry, fieldKey)), Value: []byte(field(entry, fieldValue))}
			if err := deliver(ctx, h, msg, r.policy, r.logger); err != nil {
				return nil
			}
			if err := r.client.XAck(context.WithoutCancel(ctx), r.cfg.Stream, r.cfg.Group, entry.ID).Err(); err != nil {
				r.logger.WarnContext(ctx, "xack failed; entry will be replayed", "id", entry.ID, "error", err)
			}
			if replaying {
				cursor = entry.ID
			}
		}
	}
}

func field(entry redis.XMessage, name string) string {
	if v, ok := entry.Values[name].(string); ok {
		return v
	}
	return ""
}
