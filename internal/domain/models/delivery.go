package models

import "time"

// Delivery outcomes for one (signal, recipient) pair within a cycle.
// There is no durable retry queue across cycles: a recipient who misses
// a signal does not receive it retroactively.
const (
	OutcomeDelivered  = "delivered"
	OutcomeSuppressed = "suppressed"
	OutcomeTransient  = "transient_failure"
	OutcomePermanent  = "permanent_failure"
	OutcomeFailed     = "failed"
)

// DeliveryAttempt records the final result of delivering one signal to
// one recipient. Persisted to the audit sink, not load-bearing.
type DeliveryAttempt struct {
	SignalID     int64
	RecipientID  string
	Address      string
	Outcome      string
	Attempts     int
	Error        string
	SuppressedBy string // filter name when Outcome is suppressed
	At           time.Time
}

// CycleReport aggregates one dispatch cycle.
type CycleReport struct {
	Worker     string        `json:"worker"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Skipped    bool          `json:"skipped"` // unchanged backlog, no work done
	Fetched    int           `json:"fetched"`
	Processed  int           `json:"processed"`
	Swept      int           `json:"swept"` // informational signals marked without dispatch
	Delivered  int           `json:"delivered"`
	Suppressed int           `json:"suppressed"`
	Failed     int           `json:"failed"`
	Errors     []string      `json:"errors,omitempty"`
}

// StoreStatus is the signal-store health summary.
type StoreStatus struct {
	UnprocessedSignals int        `json:"unprocessed_signals"`
	TotalSignals       int        `json:"total_signals"`
	LastSignalAt       *time.Time `json:"last_signal_at,omitempty"`
}
