package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig addresses a topic on a Kafka-compatible cluster.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// KafkaProducer sends keyed records. The default partitioner hashes the key,
// so one recipient always lands on one partition.
type KafkaProducer struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	onError func(Message, error)
}

type KafkaProducerOption func(*KafkaProducer)

func WithProducerLogger(logger *slog.Logger) KafkaProducerOption {
	return func(p *KafkaProducer) { p.logger = logger }
}

// WithDeliveryErrorHook observes records the broker never acknowledged.
func WithDeliveryErrorHook(fn func(Message, error)) KafkaProducerOption {
	return func(p *KafkaProducer) { p.onError = fn }
}

func NewKafkaProducer(cfg KafkaConfig, opts ...KafkaProducerOption) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer client: %w", err)
	}
	p := &KafkaProducer{client: client, topic: cfg.Topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Send buffers the record and returns immediately. A full buffer fails the
// record through the delivery hook instead of blocking the caller.
func (p *KafkaProducer) Send(ctx context.Context, msg Message) error {
	topic := msg.Topic
	if topic == "" {
		topic = p.topic
	}
	record := &kgo.Record{Topic: topic, Key: msg.Key, Value: msg.Value}
	p.client.TryProduce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err == nil {
			return
		}
		p.logger.Warn("kafka delivery failed",
			"topic", r.Topic,
			"key", string(r.Key),
			"error", err,
		)
		if p.onError != nil {
			p.onError(Message{Topic: r.Topic, Key: r.Key, Value: r.Value}, err)
		}
	})
	return nil
}

// Close flushes buffered records, bounded by ctx, then closes the client.
func (p *KafkaProducer) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	return nil
}

// KafkaConsumer is a group member that commits only after the handler accepts
// a record, so a crash between handling and commit means redelivery.
type KafkaConsumer struct {
	client *kgo.Client
	policy RetryPolicy
	logger *slog.Logger
}

type KafkaConsumerOption func(*KafkaConsumer)

func WithConsumerLogger(logger *slog.Logger) KafkaConsumerOption {
	return func(c *KafkaConsumer) { c.logger = logger }
}

func WithConsumerRetry(p RetryPolicy) KafkaConsumerOption {
	return func(c *KafkaConsumer) { c.policy = p }
}

func NewKafkaConsumer(cfg KafkaConfig, opts ...KafkaConsumerOption) (*KafkaConsumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer client: %w", err)
	}
	c := &KafkaConsumer{client: client, policy: DefaultRetryPolicy, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *KafkaConsumer) Run(ctx context.Context, h Handler) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var handled []*kgo.Record
		stopped := false
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, r := range p.Records {
				if stopped {
					return
				}
				msg := &Message{Topic: r.Topic, Key: r.Key, Value: r.Value}
				if err := deliver(ctx, h, msg, c.policy, c.logger); err != nil {
					stopped = true
					return
				}
				handled = append(handled, r)
			}
		})

		if len(handled) > 0 {
			commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := c.client.CommitRecords(commitCtx, handled...); err != nil {
				c.logger.WarnContext(ctx, "kafka commit failed; records will be redelivered", "error", err)
			}
			cancel()
		}
		c.client.AllowRebalance()
		if stopped {
			return nil
		}
	}
}

// EnsureTopic creates the topic if it does not exist.
func EnsureTopic(ctx context.Context, brokers []string, topic string, partitions int32, replicationFactor int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()

	resp, err := kadm.NewClient(client).CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
