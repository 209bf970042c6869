package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"SigRelay/internal/domain/repository"
	"SigRelay/internal/handler/api"
	internalrepo "SigRelay/internal/repository"
	"SigRelay/internal/scheduler"
	"SigRelay/internal/service/antispam"
	"SigRelay/internal/service/channel"
	"SigRelay/internal/service/delivery"
	"SigRelay/internal/service/format"
	"SigRelay/internal/usecase"
	pkgch "SigRelay/pkg/clickhouse"
	"SigRelay/pkg/config"
	pkgkafka "SigRelay/pkg/kafka"
	"SigRelay/pkg/logger"
	"SigRelay/pkg/metrics"
	"SigRelay/pkg/queue"
	"SigRelay/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideMetrics creates the Prometheus recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvidePostgres opens the Postgres pool shared by both stores.
func ProvidePostgres(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	if cfg.Postgres.ConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Postgres.ConnLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// ProvideRedis creates the Redis client, nil when disabled.
func ProvideRedis(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ProvideSignalStore creates the Postgres signal store.
func ProvideSignalStore(db *sqlx.DB, log *logger.Logger) repository.SignalStore {
	return internalrepo.NewPostgresSignalStore(db, log)
}

// ProvideRecipientStore creates the Postgres recipient store.
func ProvideRecipientStore(db *sqlx.DB, log *logger.Logger) repository.RecipientStore {
	return internalrepo.NewPostgresRecipientStore(db, log)
}

// ProvideAuditSink creates the ClickHouse delivery audit sink, or a nop
// sink when ClickHouse is disabled.
func ProvideAuditSink(cfg *config.Config) (repository.AuditSink, error) {
	if !cfg.ClickHouse.Enabled {
		return internalrepo.NopAuditSink{}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithDialTimeout(cfg.ClickHouse.DialTimeout),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	sink := internalrepo.NewClickHouseAuditSink(client.DB(), cfg.ClickHouse.Database+".delivery_attempts")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, sink.Schema()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return sink, nil
}

// ProvideChannel creates the outbound messenger client.
func ProvideChannel(cfg *config.Config, log *logger.Logger) repository.Channel {
	return channel.NewClient(cfg.Channel.BaseURL, cfg.Channel.Token, log,
		channel.WithTimeout(cfg.Channel.Timeout),
		channel.WithRateLimit(cfg.Channel.RatePerSecond, cfg.Channel.Burst),
		channel.WithBreaker(cfg.Channel.BreakerEnabled),
	)
}

// ProvideAntiSpamChain builds the filter chain over Redis state, with
// an in-memory fallback when Redis is disabled.
func ProvideAntiSpamChain(cfg *config.Config, client *redis.Client, m repository.Metrics, log *logger.Logger) *antispam.Chain {
	var state antispam.State
	if client != nil {
		state = antispam.NewRedisState(client)
	} else {
		state = antispam.NewMemoryState()
	}
	return antispam.NewChain(state, m, log,
		antispam.WithFailOpen(!cfg.Dispatch.FailClosed),
	)
}

// ProvideDeliveryEngine creates the delivery engine.
func ProvideDeliveryEngine(
	cfg *config.Config,
	ch repository.Channel,
	recipients repository.RecipientStore,
	chain *antispam.Chain,
	sink repository.AuditSink,
	m repository.Metrics,
	log *logger.Logger,
) *delivery.Engine {
	return delivery.NewEngine(ch, recipients, chain, sink, m, log, format.Message,
		delivery.WithWorkers(cfg.Dispatch.Workers),
		delivery.WithRetryPolicy(cfg.Dispatch.MaxRetries, cfg.Dispatch.BackoffBase),
	)
}

// ProvideFeedHub creates the WebSocket cycle-report feed.
func ProvideFeedHub(log *logger.Logger) *api.FeedHub {
	return api.NewFeedHub(log)
}

// ProvideKafkaProducer creates the report producer, nil when Kafka is
// disabled or no report topic is configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.ReportTopic == "" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideDispatcher assembles the cycle controller with its reporters.
func ProvideDispatcher(
	cfg *config.Config,
	signals repository.SignalStore,
	recipients repository.RecipientStore,
	engine *delivery.Engine,
	feed *api.FeedHub,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Dispatcher {
	reporters := []repository.Reporter{feed}
	if producer != nil {
		reporters = append(reporters, usecase.NewKafkaReporter(producer, cfg.Kafka.ReportTopic))
	}
	return usecase.NewDispatcher(signals, recipients, usecase.NewResolver(log), engine, m, log,
		usecase.WithBatchSize(cfg.Dispatch.BatchSize),
		usecase.WithCycleBudget(cfg.Dispatch.CycleBudget),
		usecase.WithReporters(reporters...),
	)
}

// ProvideKafkaConsumer creates the signal ingest consumer, nil when
// Kafka is disabled.
func ProvideKafkaConsumer(
	cfg *config.Config,
	signals repository.SignalStore,
	m repository.Metrics,
	log *logger.Logger,
) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.SignalTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewSignalIngest(cfg.Kafka.SignalTopic, signals, m, log))
	return consumer, nil
}

// ProvideQueue creates the Redis job queue carrying dispatch-cycle
// jobs, nil when disabled.
func ProvideQueue(cfg *config.Config, client *redis.Client, dispatcher *usecase.Dispatcher, log *logger.Logger) *queue.RedisQueue {
	if !cfg.Dispatch.Queue.Enabled || client == nil {
		return nil
	}
	q := queue.NewRedisQueue(log, queue.Config{
		Workers:    cfg.Dispatch.Queue.Workers,
		RetryLimit: cfg.Dispatch.CycleRetryMax,
		RetryDelay: cfg.Dispatch.CycleRetryWait,
	}, client)
	q.Register(usecase.NewDispatchJob(dispatcher, log))
	return q
}

// ProvideBeat creates the cron scheduler.
func ProvideBeat(
	cfg *config.Config,
	dispatcher *usecase.Dispatcher,
	signals repository.SignalStore,
	recipients repository.RecipientStore,
	ch repository.Channel,
	q *queue.RedisQueue,
	log *logger.Logger,
) *scheduler.Beat {
	opts := []scheduler.BeatOption{
		scheduler.WithInterval(cfg.Dispatch.Interval),
		scheduler.WithCycleRetry(cfg.Dispatch.CycleRetryMax, cfg.Dispatch.CycleRetryWait),
		scheduler.WithInactiveCutoff(cfg.Cleanup.InactiveDays),
	}
	if q != nil {
		opts = append(opts, scheduler.WithPublisher(q))
	}
	return scheduler.NewBeat(dispatcher, signals, recipients, ch, log, opts...)
}

// ProvideAPIHandler creates the ops API handler.
func ProvideAPIHandler(
	log *logger.Logger,
	dispatcher *usecase.Dispatcher,
	signals repository.SignalStore,
	recipients repository.RecipientStore,
	ch repository.Channel,
	feed *api.FeedHub,
) *api.DispatchHandler {
	return api.NewDispatchHandler(log, dispatcher, signals, recipients, ch, feed)
}

// ProvideApp assembles the application lifecycle.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	db *sqlx.DB,
	redisClient *redis.Client,
	sink repository.AuditSink,
	handler *api.DispatchHandler,
	feed *api.FeedHub,
	beat *scheduler.Beat,
	q *queue.RedisQueue,
	consumer *pkgkafka.Consumer,
	producer *pkgkafka.Producer,
) *server.App {
	return server.New(cfg, log, db, redisClient, sink, handler, feed, beat, q, consumer, producer)
}
