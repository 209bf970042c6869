package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/internal/service/antispam"
	"SigRelay/internal/service/delivery"
	"SigRelay/pkg/logger"
)

type nopMetrics struct{}

func (nopMetrics) RecordSignalProcessed(string)  {}
func (nopMetrics) RecordDelivery(string)         {}
func (nopMetrics) RecordSuppression(string)      {}
func (nopMetrics) RecordError(string)            {}
func (nopMetrics) RecordCycleDuration(float64)   {}
func (nopMetrics) RecordBacklog(int)             {}
func (nopMetrics) RecordLatency(string, float64) {}

type fakeSignalStore struct {
	mu       sync.Mutex
	signals  []*models.Signal
	marked   map[int64]string
	markFail bool

	countCalls int
	fetchCalls int
}

func newFakeSignalStore(signals ...*models.Signal) *fakeSignalStore {
	return &fakeSignalStore{signals: signals, marked: map[int64]string{}}
}

func (s *fakeSignalStore) CountUnprocessed(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	n := 0
	for _, sig := range s.signals {
		if !sig.Processed {
			n++
		}
	}
	return n, nil
}

func (s *fakeSignalStore) FetchUnprocessed(_ context.Context, limit int) ([]*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	var out []*models.Signal
	for _, sig := range s.signals {
		if !sig.Processed && sig.Actionable() && len(out) < limit {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (s *fakeSignalStore) MarkProcessed(_ context.Context, signalID int64, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markFail {
		return false, nil
	}
	for _, sig := range s.signals {
		if sig.ID == signalID && !sig.Processed {
			sig.Processed = true
			s.marked[signalID] = workerID
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSignalStore) SweepNonActionable(_ context.Context, workerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept int64
	for _, sig := range s.signals {
		if !sig.Processed && !sig.Actionable() {
			sig.Processed = true
			s.marked[sig.ID] = workerID
			swept++
		}
	}
	return swept, nil
}

func (s *fakeSignalStore) Insert(_ context.Context, sig *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeSignalStore) Status(context.Context) (*models.StoreStatus, error) {
	return &models.StoreStatus{}, nil
}

func (s *fakeSignalStore) Health(context.Context) error { return nil }

type fakeRecipientStore struct {
	mu      sync.Mutex
	configs []*models.RecipientConfig
}

func (s *fakeRecipientStore) ListActive(context.Context) ([]*models.RecipientConfig, error) {
	return s.configs, nil
}

func (s *fakeRecipientStore) Get(context.Context, string, string) (*models.RecipientConfig, error) {
	return nil, repository.ErrNotFound
}

func (s *fakeRecipientStore) RecordDelivery(context.Context, string, time.Time) error { return nil }

func (s *fakeRecipientStore) Deactivate(context.Context, string) (bool, error) { return false, nil }

func (s *fakeRecipientStore) Stats(context.Context, string) (*models.RecipientStats, error) {
	return nil, repository.ErrNotFound
}

func (s *fakeRecipientStore) PurgeInactive(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeRecipientStore) Health(context.Context) error { return nil }

type okChannel struct{}

func (okChannel) Send(context.Context, string, string) error { return nil }
func (okChannel) Health(context.Context) error               { return nil }

type captureReporter struct {
	mu      sync.Mutex
	reports []*models.CycleReport
}

func (r *captureReporter) PublishReport(_ context.Context, report *models.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func actionable(id int64) *models.Signal {
	return &models.Signal{
		ID:        id,
		Symbol:    "BTCUSDT",
		Kind:      models.KindBuy,
		Strength:  models.StrengthModerate,
		Timeframe: "1h",
		IndicatorData: models.IndicatorData{
			"RSI": models.IndicatorValues{"value": 20.0},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func informational(id int64) *models.Signal {
	s := actionable(id)
	s.Kind = models.KindHold
	return s
}

func activeConfig(recipient string) *models.RecipientConfig {
	return &models.RecipientConfig{
		RecipientID: recipient,
		Address:     "addr-" + recipient,
		ConfigName:  "default",
		Active:      true,
		Priority:    1,
		Symbols:     []string{"BTCUSDT"},
		Timeframes:  []string{"1h"},
		Thresholds: models.ThresholdConfig{
			"RSI": {Enabled: true, Oversold: 30, Overbought: 70},
		},
	}
}

func newDispatcher(signals *fakeSignalStore, recipients *fakeRecipientStore, reporters ...repository.Reporter) *Dispatcher {
	chain := antispam.NewChain(antispam.NewMemoryState(), nopMetrics{}, logger.Nop())
	engine := delivery.NewEngine(okChannel{}, recipients, chain, nil, nopMetrics{}, logger.Nop(),
		func(s *models.Signal) string { return s.Symbol })
	return NewDispatcher(signals, recipients, NewResolver(logger.Nop()), engine, nopMetrics{}, logger.Nop(),
		WithWorkerID("test-worker"),
		WithReporters(reporters...))
}

func TestCycleDeliversAndMarks(t *testing.T) {
	signals := newFakeSignalStore(actionable(1), actionable(2))
	recipients := &fakeRecipientStore{configs: []*models.RecipientConfig{activeConfig("alice")}}
	reporter := &captureReporter{}
	d := newDispatcher(signals, recipients, reporter)

	report := d.RunCycle(context.Background())
	require.False(t, report.Skipped)
	require.Equal(t, 2, report.Fetched)
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 2, report.Delivered)
	require.Equal(t, "test-worker", signals.marked[1])
	require.Equal(t, "test-worker", signals.marked[2])
	require.Len(t, reporter.reports, 1)
}

func TestCycleSkipsEmptyBacklog(t *testing.T) {
	signals := newFakeSignalStore()
	d := newDispatcher(signals, &fakeRecipientStore{})

	report := d.RunCycle(context.Background())
	require.True(t, report.Skipped)
	require.Zero(t, report.Fetched)
	require.Equal(t, 0, signals.fetchCalls)
}

func TestCycleRetriesBacklogWhenMarkingFails(t *testing.T) {
	signals := newFakeSignalStore(actionable(9))
	signals.markFail = true
	d := newDispatcher(signals, &fakeRecipientStore{})

	first := d.RunCycle(context.Background())
	require.False(t, first.Skipped)
	require.Equal(t, 1, first.Fetched)
	require.Zero(t, first.Processed)

	// backlog count is unchanged but the batch was non-empty, so the
	// short-circuit must not engage
	second := d.RunCycle(context.Background())
	require.False(t, second.Skipped)
	require.Equal(t, 1, second.Fetched)
}

func TestCycleEnforcesCooldownAcrossBatch(t *testing.T) {
	signals := newFakeSignalStore(actionable(1), actionable(2))
	cfg := activeConfig("alice")
	cfg.AntiSpam.CooldownMinutes = models.CooldownTable{"1h": {"moderate": 15}}
	recipients := &fakeRecipientStore{configs: []*models.RecipientConfig{cfg}}
	d := newDispatcher(signals, recipients)

	// both signals land in one batch; the second must respect the
	// window opened by the first delivery
	report := d.RunCycle(context.Background())
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 1, report.Delivered)
	require.Equal(t, 1, report.Suppressed)
}

func TestCycleSweepsInformationalSignals(t *testing.T) {
	signals := newFakeSignalStore(informational(1), informational(2), actionable(3))
	recipients := &fakeRecipientStore{configs: []*models.RecipientConfig{activeConfig("alice")}}
	d := newDispatcher(signals, recipients)

	report := d.RunCycle(context.Background())
	require.Equal(t, 2, report.Swept)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, "test-worker", signals.marked[1])
}

func TestCycleMarksEvenWithoutRecipients(t *testing.T) {
	signals := newFakeSignalStore(actionable(1))
	d := newDispatcher(signals, &fakeRecipientStore{})

	report := d.RunCycle(context.Background())
	require.Equal(t, 1, report.Processed)
	require.Zero(t, report.Delivered)
	require.True(t, signals.signals[0].Processed)
}

func TestCycleLostMarkRaceNotCountedProcessed(t *testing.T) {
	signals := newFakeSignalStore(actionable(1))
	signals.markFail = true
	d := newDispatcher(signals, &fakeRecipientStore{})

	report := d.RunCycle(context.Background())
	require.Zero(t, report.Processed)
	require.Empty(t, report.Errors)
}

func TestStaleCountShortCircuit(t *testing.T) {
	signals := newFakeSignalStore(actionable(1))
	d := newDispatcher(signals, &fakeRecipientStore{})

	// fetch returns the signal, it is processed, backlog drops to zero
	first := d.RunCycle(context.Background())
	require.Equal(t, 1, first.Processed)

	second := d.RunCycle(context.Background())
	require.True(t, second.Skipped)

	// a new signal re-arms the cycle
	require.NoError(t, signals.Insert(context.Background(), actionable(2)))
	third := d.RunCycle(context.Background())
	require.False(t, third.Skipped)
	require.Equal(t, 1, third.Processed)
}
