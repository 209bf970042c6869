package usecase

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"SigRelay/internal/domain/models"
	drepo "SigRelay/internal/domain/repository"
	"SigRelay/internal/service/delivery"
	"SigRelay/pkg/logger"
)

// NewWorkerID builds the identity stamped into processed_by, unique per
// process so concurrent workers are tellable apart in the store.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, strings.Split(uuid.NewString(), "-")[0])
}

// Dispatcher runs the periodic dispatch cycle: drain unprocessed
// actionable signals, fan each out to eligible recipients, and mark
// every handled signal processed exactly once. Cycles in one process
// never overlap; an overlapping trigger is reported as skipped.
type Dispatcher struct {
	signals    drepo.SignalStore
	recipients drepo.RecipientStore
	resolver   *Resolver
	engine     *delivery.Engine
	metrics    drepo.Metrics
	log        *logger.Logger
	reporters  []drepo.Reporter

	workerID  string
	batchSize int
	budget    time.Duration

	running sync.Mutex
	// backlog count that last yielded an empty fetch; the same count
	// again means nothing new arrived and the cycle can skip entirely
	staleMu    sync.Mutex
	staleCount int
	hasStale   bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize bounds how many signals one cycle fetches.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithCycleBudget soft-bounds one cycle's wall time.
func WithCycleBudget(budget time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.budget = budget }
}

// WithWorkerID overrides the generated worker identity.
func WithWorkerID(id string) DispatcherOption {
	return func(d *Dispatcher) { d.workerID = id }
}

// WithReporters sets the cycle-report fan-out targets.
func WithReporters(reporters ...drepo.Reporter) DispatcherOption {
	return func(d *Dispatcher) { d.reporters = reporters }
}

func NewDispatcher(
	signals drepo.SignalStore,
	recipients drepo.RecipientStore,
	resolver *Resolver,
	engine *delivery.Engine,
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		signals:    signals,
		recipients: recipients,
		resolver:   resolver,
		engine:     engine,
		metrics:    metrics,
		log:        log,
		workerID:   NewWorkerID(),
		batchSize:  50,
		budget:     45 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WorkerID returns the identity this dispatcher stamps into the store.
func (d *Dispatcher) WorkerID() string { return d.workerID }

// RunCycle executes one dispatch cycle and returns its report. It never
// returns a nil report; store errors that abort the cycle are carried in
// the report's Errors.
func (d *Dispatcher) RunCycle(ctx context.Context) *models.CycleReport {
	report := &models.CycleReport{
		Worker:    d.workerID,
		StartedAt: time.Now().UTC(),
	}

	if !d.running.TryLock() {
		report.Skipped = true
		report.Errors = append(report.Errors, "previous cycle still running")
		d.log.Warn("dispatch cycle overlap, skipping")
		return report
	}
	defer d.running.Unlock()

	if d.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.budget)
		defer cancel()
	}

	d.runLocked(ctx, report)

	report.Duration = time.Since(report.StartedAt)
	d.metrics.RecordCycleDuration(report.Duration.Seconds())
	d.publish(ctx, report)
	d.logReport(report)
	return report
}

func (d *Dispatcher) runLocked(ctx context.Context, report *models.CycleReport) {
	count, err := d.signals.CountUnprocessed(ctx)
	if err != nil {
		d.metrics.RecordError("count_unprocessed")
		report.Errors = append(report.Errors, fmt.Sprintf("count unprocessed: %v", err))
		return
	}
	d.metrics.RecordBacklog(count)

	if d.shouldSkip(count) {
		report.Skipped = true
		return
	}

	swept, err := d.signals.SweepNonActionable(ctx, d.workerID)
	if err != nil {
		d.metrics.RecordError("sweep")
		report.Errors = append(report.Errors, fmt.Sprintf("sweep non-actionable: %v", err))
	}
	report.Swept = int(swept)

	batch, err := d.signals.FetchUnprocessed(ctx, d.batchSize)
	if err != nil {
		d.metrics.RecordError("fetch_unprocessed")
		report.Errors = append(report.Errors, fmt.Sprintf("fetch unprocessed: %v", err))
		return
	}
	report.Fetched = len(batch)
	if len(batch) == 0 {
		// remember this backlog so an identical count next cycle skips
		// the round trip; anything left unprocessed is non-fetchable
		d.markStale(count)
		return
	}
	d.clearStale()

	configs, err := d.recipients.ListActive(ctx)
	if err != nil {
		d.metrics.RecordError("list_recipients")
		report.Errors = append(report.Errors, fmt.Sprintf("list recipients: %v", err))
		return
	}

	for _, sig := range batch {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, "cycle budget exhausted")
			break
		}
		d.processSignal(ctx, sig, configs, report)
	}
}

// processSignal handles one signal end to end. A panic in resolution or
// delivery is contained here so the rest of the batch still runs.
func (d *Dispatcher) processSignal(ctx context.Context, sig *models.Signal, configs []*models.RecipientConfig, report *models.CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordError("signal_panic")
			report.Errors = append(report.Errors, fmt.Sprintf("signal %d panicked: %v", sig.ID, r))
			d.log.Error("panic while processing signal",
				logger.Int64("signal_id", sig.ID),
				logger.Any("panic", r))
		}
	}()

	eligible := d.resolver.Resolve(sig, configs)
	res := d.engine.Deliver(ctx, sig, eligible)
	report.Delivered += res.Delivered
	report.Suppressed += res.Suppressed
	report.Failed += res.Failed

	// the signal is consumed whatever the delivery outcome; there is no
	// durable redelivery across cycles
	marked, err := d.signals.MarkProcessed(ctx, sig.ID, d.workerID)
	if err != nil {
		d.metrics.RecordError("mark_processed")
		report.Errors = append(report.Errors, fmt.Sprintf("mark signal %d: %v", sig.ID, err))
		return
	}
	if !marked {
		d.log.Debug("signal already completed by another worker",
			logger.Int64("signal_id", sig.ID))
		return
	}
	report.Processed++
	d.metrics.RecordSignalProcessed(sig.Kind)
}

func (d *Dispatcher) shouldSkip(count int) bool {
	if count == 0 {
		return true
	}
	d.staleMu.Lock()
	defer d.staleMu.Unlock()
	return d.hasStale && count == d.staleCount
}

func (d *Dispatcher) markStale(count int) {
	d.staleMu.Lock()
	defer d.staleMu.Unlock()
	d.staleCount, d.hasStale = count, true
}

func (d *Dispatcher) clearStale() {
	d.staleMu.Lock()
	defer d.staleMu.Unlock()
	d.hasStale = false
}

func (d *Dispatcher) publish(ctx context.Context, report *models.CycleReport) {
	for _, rep := range d.reporters {
		if err := rep.PublishReport(ctx, report); err != nil {
			d.metrics.RecordError("report_publish")
			d.log.Warn("failed to publish cycle report", logger.Error(err))
		}
	}
}

func (d *Dispatcher) logReport(r *models.CycleReport) {
	fields := []logger.Field{
		logger.String("worker", r.Worker),
		logger.Duration("duration", r.Duration),
		logger.Bool("skipped", r.Skipped),
		logger.Int("fetched", r.Fetched),
		logger.Int("processed", r.Processed),
		logger.Int("swept", r.Swept),
		logger.Int("delivered", r.Delivered),
		logger.Int("suppressed", r.Suppressed),
		logger.Int("failed", r.Failed),
	}
	if len(r.Errors) > 0 {
		fields = append(fields, logger.Strings("errors", r.Errors))
		d.log.Warn("dispatch cycle finished with errors", fields...)
		return
	}
	if r.Skipped {
		d.log.Debug("dispatch cycle skipped", fields...)
		return
	}
	d.log.Info("dispatch cycle finished", fields...)
}
