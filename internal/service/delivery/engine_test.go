package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SigRelay/internal/domain/models"
	"SigRelay/internal/domain/repository"
	"SigRelay/internal/service/antispam"
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

// scriptedChannel returns its errors in order, then succeeds.
type scriptedChannel struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (c *scriptedChannel) Send(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *scriptedChannel) Health(context.Context) error { return nil }

func (c *scriptedChannel) sends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeRecipientStore struct {
	mu          sync.Mutex
	deactivated []string
	recorded    []string
}

func (s *fakeRecipientStore) ListActive(context.Context) ([]*models.RecipientConfig, error) {
	return nil, nil
}

func (s *fakeRecipientStore) Get(context.Context, string, string) (*models.RecipientConfig, error) {
	return nil, repository.ErrNotFound
}

func (s *fakeRecipientStore) RecordDelivery(_ context.Context, recipientID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, recipientID)
	return nil
}

func (s *fakeRecipientStore) Deactivate(_ context.Context, recipientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivated = append(s.deactivated, recipientID)
	return true, nil
}

func (s *fakeRecipientStore) Stats(context.Context, string) (*models.RecipientStats, error) {
	return nil, repository.ErrNotFound
}

func (s *fakeRecipientStore) PurgeInactive(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeRecipientStore) Health(context.Context) error { return nil }

func testEngine(ch repository.Channel, store repository.RecipientStore, waits *[]time.Duration) *Engine {
	chain := antispam.NewChain(antispam.NewMemoryState(), nopMetrics{}, logger.Nop())
	format := func(s *models.Signal) string { return s.Symbol }
	sleep := func(_ context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return nil
	}
	return NewEngine(ch, store, chain, nil, nopMetrics{}, logger.Nop(), format,
		WithRetryPolicy(3, time.Second),
		WithSleep(sleep))
}

func testSignal() *models.Signal {
	return &models.Signal{
		ID:        7,
		Symbol:    "ETHUSDT",
		Kind:      models.KindBuy,
		Strength:  "moderate",
		Timeframe: "1h",
		IndicatorData: models.IndicatorData{
			"RSI": models.IndicatorValues{"value": 25.0},
		},
	}
}

func testRecipient(id string) *models.RecipientConfig {
	return &models.RecipientConfig{
		RecipientID: id,
		Address:     "addr-" + id,
		ConfigName:  "default",
		Active:      true,
		Symbols:     []string{"ETHUSDT"},
		Timeframes:  []string{"1h"},
		AntiSpam:    models.AntiSpamConfig{},
	}
}

func TestDeliverSuccess(t *testing.T) {
	ch := &scriptedChannel{}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Delivered: 1}, res)
	require.Equal(t, []string{"r1"}, store.recorded)
}

func TestRateLimitDoesNotConsumeRetryBudget(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.RateLimitedError{RetryAfter: 2 * time.Second},
		&repository.RateLimitedError{RetryAfter: 2 * time.Second},
		&repository.RateLimitedError{RetryAfter: 2 * time.Second},
	}}
	store := &fakeRecipientStore{}
	var waits []time.Duration
	e := testEngine(ch, store, &waits)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Delivered: 1}, res)
	// three waits happened without spending any of the three retries
	require.Len(t, waits, 3)
	require.Equal(t, 4, ch.sends())
	for _, w := range waits {
		require.GreaterOrEqual(t, w, 2*time.Second)
	}
}

func TestTransientRetriesWithBackoff(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
	}}
	store := &fakeRecipientStore{}
	var waits []time.Duration
	e := testEngine(ch, store, &waits)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Delivered: 1}, res)
	require.Len(t, waits, 2)
	// exponential base: 2^1 then 2^2 seconds, plus jitter
	require.GreaterOrEqual(t, waits[0], 2*time.Second)
	require.GreaterOrEqual(t, waits[1], 4*time.Second)
}

func TestTransientExhaustsBudget(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
	}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Failed: 1}, res)
	// three retries on top of the initial send
	require.Equal(t, 4, ch.sends())
}

func TestThirdRetrySucceeds(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
		&repository.TransientError{Err: errors.New("timeout")},
		nil,
	}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Delivered: 1}, res)
	require.Equal(t, 4, ch.sends())
}

func TestPermanentRejectionDeactivates(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.PermanentError{Reason: "chat not found"},
	}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Failed: 1}, res)
	require.Equal(t, []string{"r1"}, store.deactivated)
	require.Equal(t, 1, ch.sends())
}

func TestUnclassifiedErrorDoesNotRetry(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		errors.New("message is too long"),
		nil,
	}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Failed: 1}, res)
	require.Equal(t, 1, ch.sends())
	require.Empty(t, store.deactivated)
}

func TestSuppressedRecipientSkipsChannel(t *testing.T) {
	ch := &scriptedChannel{}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	rec := testRecipient("r1")
	recent := time.Now().UTC().Add(-1 * time.Minute)
	rec.LastSignalAt = &recent
	rec.AntiSpam.CooldownMinutes = models.CooldownTable{"1h": {"moderate": 30}}

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{rec})
	require.Equal(t, Result{Suppressed: 1}, res)
	require.Equal(t, 0, ch.sends())
}

func TestFanOutIsolatesRecipients(t *testing.T) {
	ch := &scriptedChannel{errs: []error{
		&repository.PermanentError{Reason: "bot was blocked"},
	}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{
		testRecipient("r1"),
		testRecipient("r2"),
		testRecipient("r3"),
	})
	require.Equal(t, 3, res.Delivered+res.Failed)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 2, res.Delivered)
}

func TestScriptedNilMeansSuccess(t *testing.T) {
	ch := &scriptedChannel{errs: []error{nil}}
	store := &fakeRecipientStore{}
	e := testEngine(ch, store, nil)

	res := e.Deliver(context.Background(), testSignal(), []*models.RecipientConfig{testRecipient("r1")})
	require.Equal(t, Result{Delivered: 1}, res)
}
