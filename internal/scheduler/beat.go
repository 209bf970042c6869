package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/usecase"
	"SigRelay/pkg/logger"
	"SigRelay/pkg/queue"
)

// Beat drives the periodic work: the dispatch tick, a health probe,
// and the daily cleanup of long-inactive subscriptions. With a queue
// publisher configured the tick is enqueued for the worker pool,
// otherwise it runs in-process.
type Beat struct {
	cron       *cron.Cron
	dispatcher *usecase.Dispatcher
	publisher  queue.Publisher
	signals    drepo.SignalStore
	recipients drepo.RecipientStore
	channel    drepo.Channel
	log        *logger.Logger

	interval     time.Duration
	retryMax     int
	retryWait    time.Duration
	inactiveDays int
}

// BeatOption configures a Beat.
type BeatOption func(*Beat)

// WithInterval sets the dispatch tick interval.
func WithInterval(d time.Duration) BeatOption {
	return func(b *Beat) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithCycleRetry bounds in-process cycle reruns after a failed tick.
func WithCycleRetry(maxRetries int, wait time.Duration) BeatOption {
	return func(b *Beat) {
		b.retryMax = maxRetries
		b.retryWait = wait
	}
}

// WithPublisher routes ticks through the job queue.
func WithPublisher(p queue.Publisher) BeatOption {
	return func(b *Beat) { b.publisher = p }
}

// WithInactiveCutoff sets how many days a deactivated subscription
// survives before the daily cleanup purges it.
func WithInactiveCutoff(days int) BeatOption {
	return func(b *Beat) {
		if days > 0 {
			b.inactiveDays = days
		}
	}
}

func NewBeat(
	dispatcher *usecase.Dispatcher,
	signals drepo.SignalStore,
	recipients drepo.RecipientStore,
	channel drepo.Channel,
	log *logger.Logger,
	opts ...BeatOption,
) *Beat {
	b := &Beat{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		dispatcher:   dispatcher,
		signals:      signals,
		recipients:   recipients,
		channel:      channel,
		log:          log,
		interval:     60 * time.Second,
		retryMax:     2,
		retryWait:    5 * time.Second,
		inactiveDays: 30,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start registers the schedules and launches the cron loop.
func (b *Beat) Start() error {
	if _, err := b.cron.AddFunc(fmt.Sprintf("@every %s", b.interval), b.tick); err != nil {
		return fmt.Errorf("schedule dispatch tick: %w", err)
	}
	if _, err := b.cron.AddFunc("@every 5m", b.probe); err != nil {
		return fmt.Errorf("schedule probe: %w", err)
	}
	if _, err := b.cron.AddFunc("0 3 * * *", b.cleanup); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	b.cron.Start()
	b.log.Info("beat started",
		logger.Duration("interval", b.interval),
		logger.Bool("queued", b.publisher != nil))
	return nil
}

// Stop halts the cron loop and waits for running entries.
func (b *Beat) Stop(ctx context.Context) error {
	stopped := b.cron.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("beat stop: %w", ctx.Err())
	case <-stopped.Done():
		b.log.Info("beat stopped")
		return nil
	}
}

func (b *Beat) tick() {
	if b.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.publisher.Publish(ctx, usecase.DispatchCycleType, struct{}{}); err != nil {
			b.log.Error("failed to enqueue dispatch cycle, running inline", logger.Error(err))
			b.runInline()
		}
		return
	}
	b.runInline()
}

// runInline executes the cycle in-process, rerunning a bounded number
// of times when it aborted before doing any work.
func (b *Beat) runInline() {
	for attempt := 0; ; attempt++ {
		report := b.dispatcher.RunCycle(context.Background())
		if len(report.Errors) == 0 || report.Processed > 0 || report.Skipped {
			return
		}
		if attempt >= b.retryMax {
			b.log.Error("dispatch cycle failed after retries",
				logger.Int("attempts", attempt+1),
				logger.Strings("errors", report.Errors))
			return
		}
		b.log.Warn("dispatch cycle failed, retrying",
			logger.Int("attempt", attempt+1),
			logger.Duration("wait", b.retryWait))
		time.Sleep(b.retryWait)
	}
}

func (b *Beat) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for name, check := range map[string]func(context.Context) error{
		"signal_store":    b.signals.Health,
		"recipient_store": b.recipients.Health,
		"channel":         b.channel.Health,
	} {
		if err := check(ctx); err != nil {
			b.log.Warn("health probe failed",
				logger.String("target", name),
				logger.Error(err))
		}
	}
}

func (b *Beat) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().UTC().AddDate(0, 0, -b.inactiveDays)
	purged, err := b.recipients.PurgeInactive(ctx, cutoff)
	if err != nil {
		b.log.Error("subscription cleanup failed", logger.Error(err))
		return
	}
	if purged > 0 {
		b.log.Info("purged inactive subscriptions",
			logger.Int64("purged", purged),
			logger.String("cutoff", cutoff.Format(time.RFC3339)))
	}
}
