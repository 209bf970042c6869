package delivery

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/internal/service/antispam"
	"SigRelay/pkg/logger"
)

// Formatter renders a signal into outbound message text.
type Formatter func(s *models.Signal) string

// Result tallies one signal's fan-out across its matched recipients.
type Result struct {
	Delivered  int
	Suppressed int
	Failed     int
}

func (r *Result) add(other Result) {
	r.Delivered += other.Delivered
	r.Suppressed += other.Suppressed
	r.Failed += other.Failed
}

// Engine fans one signal out to its matched recipients through the
// outbound channel. Each recipient is independent: a failure for one
// never blocks the rest. Retry policy per recipient:
//
//   - rate limit directives wait the requested time without consuming
//     a retry attempt
//   - transient failures back off exponentially with jitter
//   - permanent rejections deactivate the recipient and stop
//   - unclassified rejections stop immediately
type Engine struct {
	channel    repository.Channel
	recipients repository.RecipientStore
	spam       *antispam.Chain
	audit      repository.AuditSink
	metrics    repository.Metrics
	log        *logger.Logger
	format     Formatter

	workers     int
	maxRetries  int
	backoffBase time.Duration
	maxWait     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkers bounds concurrent sends per signal.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetryPolicy sets the retry budget and backoff base.
func WithRetryPolicy(maxRetries int, backoffBase time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxRetries = maxRetries
		e.backoffBase = backoffBase
	}
}

// WithMaxWait caps a single rate-limit or backoff wait.
func WithMaxWait(d time.Duration) EngineOption {
	return func(e *Engine) { e.maxWait = d }
}

// WithSleep overrides the wait primitive.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) EngineOption {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	channel repository.Channel,
	recipients repository.RecipientStore,
	spam *antispam.Chain,
	audit repository.AuditSink,
	metrics repository.Metrics,
	log *logger.Logger,
	format Formatter,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		channel:     channel,
		recipients:  recipients,
		spam:        spam,
		audit:       audit,
		metrics:     metrics,
		log:         log,
		format:      format,
		workers:     4,
		maxRetries:  3,
		backoffBase: time.Second,
		maxWait:     time.Minute,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver fans sig out to eligible recipients and returns the tally.
func (e *Engine) Deliver(ctx context.Context, sig *models.Signal, eligible []*models.RecipientConfig) Result {
	if len(eligible) == 0 {
		return Result{}
	}

	text := e.format(sig)

	var (
		mu    sync.Mutex
		total Result
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, e.workers)
	for _, rec := range eligible {
		wg.Add(1)
		sem <- struct{}{}
		go func(rec *models.RecipientConfig) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.metrics.RecordError("delivery_panic")
					e.log.Error("panic delivering to recipient",
						logger.Int64("signal_id", sig.ID),
						logger.String("recipient_id", rec.RecipientID),
						logger.Any("panic", r))
					mu.Lock()
					total.Failed++
					mu.Unlock()
				}
			}()
			r := e.deliverOne(ctx, sig, rec, text)
			mu.Lock()
			total.add(r)
			mu.Unlock()
		}(rec)
	}
	wg.Wait()
	return total
}

func (e *Engine) deliverOne(ctx context.Context, sig *models.Signal, rec *models.RecipientConfig, text string) Result {
	attempt := &models.DeliveryAttempt{
		SignalID:    sig.ID,
		RecipientID: rec.RecipientID,
		Address:     rec.Address,
		At:          e.now().UTC(),
	}

	if verdict := e.spam.Check(ctx, rec, sig); !verdict.Allowed {
		attempt.Outcome = models.OutcomeSuppressed
		attempt.SuppressedBy = verdict.Filter
		attempt.Error = verdict.Reason
		e.metrics.RecordSuppression(verdict.Filter)
		e.record(ctx, attempt)
		e.log.Debug("signal suppressed",
			logger.Int64("signal_id", sig.ID),
			logger.String("recipient_id", rec.RecipientID),
			logger.String("filter", verdict.Filter))
		return Result{Suppressed: 1}
	}

	outcome, attempts, sendErr := e.sendWithRetry(ctx, rec, text)
	attempt.Outcome = outcome
	attempt.Attempts = attempts
	if sendErr != nil {
		attempt.Error = sendErr.Error()
	}
	e.metrics.RecordDelivery(outcome)
	e.record(ctx, attempt)

	if outcome != models.OutcomeDelivered {
		e.log.Warn("delivery failed",
			logger.Int64("signal_id", sig.ID),
			logger.String("recipient_id", rec.RecipientID),
			logger.String("outcome", outcome),
			logger.Int("attempts", attempts),
			logger.Error(sendErr))
		return Result{Failed: 1}
	}

	e.spam.RecordDelivery(ctx, rec, sig)
	if err := e.recipients.RecordDelivery(ctx, rec.RecipientID, e.now().UTC()); err != nil {
		e.metrics.RecordError("recipient_bookkeeping")
		e.log.Warn("failed to record delivery counters",
			logger.String("recipient_id", rec.RecipientID),
			logger.Error(err))
	}
	return Result{Delivered: 1}
}

// sendWithRetry pushes text to the recipient's address. maxRetries
// counts retries after the initial send, so the budget allows
// maxRetries+1 sends in total. Rate-limit waits do not consume the
// budget; transient failures do.
func (e *Engine) sendWithRetry(ctx context.Context, rec *models.RecipientConfig, text string) (string, int, error) {
	var lastErr error
	attempts := 0

	for attempts <= e.maxRetries {
		if ctx.Err() != nil {
			return models.OutcomeTransient, attempts, ctx.Err()
		}

		err := e.channel.Send(ctx, rec.Address, text)
		if err == nil {
			return models.OutcomeDelivered, attempts + 1, nil
		}
		lastErr = err

		if rl, ok := repository.AsRateLimited(err); ok {
			wait := e.clamp(rl.RetryAfter + jitter(time.Second))
			e.log.Debug("channel rate limited, waiting",
				logger.String("recipient_id", rec.RecipientID),
				logger.Duration("wait", wait))
			if serr := e.sleep(ctx, wait); serr != nil {
				return models.OutcomeTransient, attempts, serr
			}
			continue
		}

		if repository.IsPermanent(err) {
			e.deactivate(ctx, rec, err)
			return models.OutcomePermanent, attempts + 1, err
		}

		if repository.IsTransient(err) {
			attempts++
			if attempts > e.maxRetries {
				break
			}
			wait := e.clamp(e.backoff(attempts))
			if serr := e.sleep(ctx, wait); serr != nil {
				return models.OutcomeTransient, attempts, serr
			}
			continue
		}

		// unclassified rejection, retrying will not change the answer
		return models.OutcomeFailed, attempts + 1, err
	}

	return models.OutcomeTransient, attempts, lastErr
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * e.backoffBase
	return d + jitter(e.backoffBase)
}

func (e *Engine) clamp(d time.Duration) time.Duration {
	if e.maxWait > 0 && d > e.maxWait {
		return e.maxWait
	}
	return d
}

func jitter(scale time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(scale)))
}

func (e *Engine) deactivate(ctx context.Context, rec *models.RecipientConfig, cause error) {
	ok, err := e.recipients.Deactivate(ctx, rec.RecipientID)
	if err != nil {
		e.metrics.RecordError("deactivate")
		e.log.Error("failed to deactivate recipient",
			logger.String("recipient_id", rec.RecipientID),
			logger.Error(err))
		return
	}
	if ok {
		e.log.Info("recipient deactivated after permanent rejection",
			logger.String("recipient_id", rec.RecipientID),
			logger.Error(cause))
	}
}

func (e *Engine) record(ctx context.Context, a *models.DeliveryAttempt) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(ctx, a); err != nil {
		e.metrics.RecordError("audit_sink")
		e.log.Warn("failed to record delivery attempt", logger.Error(err))
	}
}
