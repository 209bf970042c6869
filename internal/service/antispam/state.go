// Package antispam implements the per-recipient suppression policy:
// daily caps, cooldown windows, and minimum indicator delta.
package antispam

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"SigRelay/pkg/util"
)

// State stores the delivery bookkeeping the filters read: per-recipient
// per-symbol daily counters keyed by UTC calendar day, the last
// indicator value seen per symbol, and the recipient's last delivery
// time. Counters racing across workers are acceptable; the policy is
// advisory.
type State interface {
	// DailyCount returns how many deliveries the recipient received for
	// the symbol on the UTC day of at.
	DailyCount(ctx context.Context, recipientID, symbol string, at time.Time) (int, error)

	// LastValue returns the last recorded indicator value for the
	// recipient and symbol, or found=false when none exists.
	LastValue(ctx context.Context, recipientID, symbol, indicator string) (float64, bool, error)

	// LastDelivery returns when the recipient last received any signal,
	// or found=false when no delivery is recorded.
	LastDelivery(ctx context.Context, recipientID string) (time.Time, bool, error)

	// RecordDelivery bumps the daily counter, stamps the delivery time,
	// and stores the indicator value when the signal carried one.
	RecordDelivery(ctx context.Context, recipientID, symbol, indicator string, value *float64, at time.Time) error
}

func countKey(recipientID, symbol string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", recipientID, strings.ToUpper(symbol), util.UTCDayKey(at))
}

func valueKey(recipientID, symbol, indicator string) string {
	return fmt.Sprintf("%s:%s:%s", recipientID, strings.ToUpper(symbol), indicator)
}

// MemoryState is the in-process State, used in tests and redis-less
// deployments. Day rollover works by construction: counters are keyed
// by UTC day, so yesterday's key is simply never read again.
type MemoryState struct {
	mu     sync.RWMutex
	counts map[string]int
	values map[string]float64
	sent   map[string]time.Time
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		counts: make(map[string]int),
		values: make(map[string]float64),
		sent:   make(map[string]time.Time),
	}
}

func (m *MemoryState) DailyCount(_ context.Context, recipientID, symbol string, at time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[countKey(recipientID, symbol, at)], nil
}

func (m *MemoryState) LastValue(_ context.Context, recipientID, symbol, indicator string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[valueKey(recipientID, symbol, indicator)]
	return v, ok, nil
}

func (m *MemoryState) LastDelivery(_ context.Context, recipientID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.sent[recipientID]
	return at, ok, nil
}

func (m *MemoryState) RecordDelivery(_ context.Context, recipientID, symbol, indicator string, value *float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[countKey(recipientID, symbol, at)]++
	m.sent[recipientID] = at
	if value != nil {
		m.values[valueKey(recipientID, symbol, indicator)] = *value
	}
	return nil
}

var _ State = (*MemoryState)(nil)
