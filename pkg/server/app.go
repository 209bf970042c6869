package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"SigRelay/internal/domain/repository"
	"SigRelay/internal/handler/api"
	"SigRelay/internal/scheduler"
	"SigRelay/pkg/config"
	xhttp "SigRelay/pkg/http"
	pkgkafka "SigRelay/pkg/kafka"
	"SigRelay/pkg/logger"
	"SigRelay/pkg/queue"
)

// App owns the application lifecycle: it starts the HTTP server, the
// signal ingest consumer, the job queue, and the beat scheduler, then
// blocks until a shutdown signal and tears everything down in reverse.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *sqlx.DB
	redis    *redis.Client
	sink     repository.AuditSink
	handler  *api.DispatchHandler
	feed     *api.FeedHub
	beat     *scheduler.Beat
	queue    *queue.RedisQueue
	consumer *pkgkafka.Consumer
	producer *pkgkafka.Producer

	httpServer *xhttp.Server
}

func New(
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
) *App {
	return &App{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		sink:     sink,
		handler:  handler,
		feed:     feed,
		beat:     beat,
		queue:    q,
		consumer: consumer,
		producer: producer,
	}
}

// Run starts all services and blocks until interrupted.
func (a *App) Run() error {
	a.httpServer = xhttp.NewServer(a.handler, a.log,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", logger.Error(err))
			return err
		}
	}
	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			a.log.Error("queue start failed", logger.Error(err))
			return err
		}
	}
	if err := a.beat.Start(); err != nil {
		a.log.Error("beat start failed", logger.Error(err))
		return err
	}

	a.log.Info("sigrelay started",
		logger.String("environment", a.cfg.Environment),
		logger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

func (a *App) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// stop producing new work first
	if err := a.beat.Stop(ctx); err != nil {
		a.log.Warn("beat stop error", logger.Error(err))
	}
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Warn("queue stop error", logger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Warn("http stop error", logger.Error(err))
	}
	if a.feed != nil {
		a.feed.Close()
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", logger.Error(err))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("audit sink close error", logger.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close error", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("postgres close error", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
