package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"reliefhub/internal/directory"
	dircache "reliefhub/internal/directory/cache"
	dirstore "reliefhub/internal/directory/store"
	"reliefhub/internal/fulfillment"
	jwttoken "reliefhub/internal/jwt_token"
	ledgerstore "reliefhub/internal/ledger/store"
	"reliefhub/internal/notify/channel"
	"reliefhub/internal/notify/materializer"
	notify "reliefhub/internal/notify/models"
	"reliefhub/internal/notify/publisher"
	notifyservice "reliefhub/internal/notify/service"
	notifystore "reliefhub/internal/notify/store"
	"reliefhub/internal/platform/config"
	"reliefhub/internal/platform/metrics"
	"reliefhub/internal/platform/middleware"
	"reliefhub/internal/platform/postgres"
	"reliefhub/internal/platform/redis"
	"reliefhub/internal/platform/sqlite"
	httptransport "reliefhub/internal/transport/http"
)

type app struct {
	router       http.Handler
	consumer     channel.Consumer
	materializer *materializer.Materializer
	limiter      *middleware.LimiterStore
	closers      []func(context.Context) error
}

func (a *app) close(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			log.Warn("error during shutdown", "error", err)
		}
	}
}

// backends holds whichever persistence the configuration selected.
type backends struct {
	ledger        ledgerstore.Store
	users         directory.Source
	notifications notifystore.Store
	health        map[string]httptransport.HealthCheck
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.close(log)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegistry(reg)

	b, err := openBackends(ctx, cfg, a, log)
	if err != nil {
		return nil, err
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		b.health["redis"] = rc.Health
		if cfg.Redis.DirectoryCacheTTL > 0 {
			b.users = dircache.New(rc.Client, b.users, cfg.Redis.DirectoryCacheTTL, dircache.WithLogger(log))
		}
	}
	dir := directory.New(b.users)

	producer, consumer, err := openChannel(ctx, cfg, rc, m, log)
	if err != nil {
		return nil, err
	}
	a.consumer = consumer
	a.closers = append(a.closers, producer.Close)

	fanout := publisher.FanoutBroadcast
	if cfg.Ledger.AdminFanout == "per_admin" {
		fanout = publisher.FanoutPerAdmin
	}
	pub := publisher.New(producer,
		publisher.WithLogger(log),
		publisher.WithMetrics(m),
		publisher.WithTopic(cfg.Channel.Topic),
		publisher.WithFanout(fanout, dir),
	)
	a.materializer = materializer.New(dir, b.notifications, materializer.WithLogger(log), materializer.WithMetrics(m))

	engine := fulfillment.New(b.ledger, dir, pub,
		fulfillment.WithLogger(log),
		fulfillment.WithMetrics(m),
		fulfillment.WithConfig(fulfillment.Config{
			LockRetries:    cfg.Ledger.LockRetries,
			RetryBase:      cfg.Ledger.RetryBase,
			RetryMax:       cfg.Ledger.RetryMax,
			CapacityPolicy: fulfillment.CapacityPolicy(cfg.Ledger.CapacityPolicy),
		}),
	)

	a.limiter = middleware.NewLimiterStore(cfg.Server.WriteRPS, cfg.Server.WriteBurst, 10*time.Minute)
	a.router = httptransport.NewRouter(httptransport.Deps{
		Requests:      engine,
		Notifications: notifyservice.New(b.notifications, notifyservice.WithLogger(log)),
		Tokens:        jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience),
		Limiter:       a.limiter,
		Gatherer:      reg,
		Health:        b.health,
		Logger:        log,
	})
	ready = true
	return a, nil
}

// openBackends prefers postgres for everything. Without a database URL the
// ledger runs in memory and users and notifications go to sqlite when a
// path is configured, or to memory otherwise.
func openBackends(ctx context.Context, cfg *config.Config, a *app, log *slog.Logger) (*backends, error) {
	b := &backends{health: map[string]httptransport.HealthCheck{}}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		x := postgres.SQLX(db)
		b.ledger = ledgerstore.NewPostgres(db, ledgerstore.WithLockWait(cfg.Ledger.LockWait))
		b.users = dirstore.New(x)
		b.notifications = notifystore.NewSQL(x)
		b.health["postgres"] = pinger(db)
		log.Info("using postgres storage")
		return b, nil
	}

	b.ledger = ledgerstore.NewInMemory(ledgerstore.WithLockWait(cfg.Ledger.LockWait))
	if cfg.Database.SQLitePath != "" {
		x, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return x.Close() })
		b.users = dirstore.New(x)
		b.notifications = notifystore.NewSQL(x)
		b.health["sqlite"] = sqlxPinger(x)
		log.Info("using in-memory ledger with sqlite users and notifications", "path", cfg.Database.SQLitePath)
		return b, nil
	}

	b.users = directory.NewInMemory()
	b.notifications = notifystore.NewInMemory()
	log.Warn("no database configured, all state is in memory")
	return b, nil
}

func openChannel(ctx context.Context, cfg *config.Config, rc *redis.Client, m *metrics.Metrics, log *slog.Logger) (channel.Producer, channel.Consumer, error) {
	retry := channel.RetryPolicy{Initial: cfg.Channel.RetryInitial, Max: cfg.Channel.RetryMax}
	switch cfg.Channel.Driver {
	case config.DriverKafka:
		if err := channel.EnsureTopic(ctx, cfg.Channel.Brokers, cfg.Channel.Topic, cfg.Channel.Partitions, cfg.Channel.ReplicationFactor); err != nil {
			return nil, nil, fmt.Errorf("ensure topic: %w", err)
		}
		kcfg := channel.KafkaConfig{Brokers: cfg.Channel.Brokers, Topic: cfg.Channel.Topic, Group: cfg.Channel.Group}
		producer, err := channel.NewKafkaProducer(kcfg,
			channel.WithProducerLogger(log),
			channel.WithDeliveryErrorHook(func(msg channel.Message, _ error) {
				m.IncrementEnqueueFailed(eventTypeOf(msg))
			}),
		)
		if err != nil {
			return nil, nil, err
		}
		consumer, err := channel.NewKafkaConsumer(kcfg, channel.WithConsumerLogger(log), channel.WithConsumerRetry(retry))
		if err != nil {
			_ = producer.Close(ctx)
			return nil, nil, err
		}
		return producer, consumer, nil

	case config.DriverRedis:
		if rc == nil {
			return nil, nil, errors.New("redis channel requires redis.url")
		}
		stream := channel.NewRedisStream(rc.Client, channel.RedisStreamConfig{
			Stream:      cfg.Channel.Topic,
			Group:       cfg.Channel.Group,
			MaxLen:      cfg.Channel.StreamMaxLen,
			Block:       cfg.Channel.Block,
			SendTimeout: cfg.Channel.SendTimeout,
		}, channel.WithStreamLogger(log), channel.WithStreamRetry(retry))
		if err := stream.EnsureGroup(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure stream group: %w", err)
		}
		return stream, stream, nil

	default:
		mem := channel.NewMemory(channel.WithMemoryLogger(log), channel.WithMemoryRetry(retry))
		return mem, mem, nil
	}
}

// eventTypeOf labels a failed record for metrics without trusting its payload.
func eventTypeOf(msg channel.Message) string {
	var e notify.Event
	if err := json.Unmarshal(msg.Value, &e); err != nil || e.Type == "" {
		return "unknown"
	}
	return string(e.Type)
}

func pinger(db *sql.DB) httptransport.HealthCheck {
	return db.PingContext
}

func sqlxPinger(db *sqlx.DB) httptransport.HealthCheck {
	return db.PingContext
}
