package usecase

import (
	"context"
	"encoding/json"

	"SigRelay/pkg/logger"
)

// DispatchCycleType is the queue message type that triggers a cycle.
const DispatchCycleType = "dispatch_cycle"

// DispatchJob runs one dispatch cycle per queue message. The beat
// scheduler enqueues these on its interval so any worker in the pool
// can pick the cycle up.
type DispatchJob struct {
	dispatcher *Dispatcher
	log        *logger.Logger
}

func NewDispatchJob(dispatcher *Dispatcher, log *logger.Logger) *DispatchJob {
	return &DispatchJob{dispatcher: dispatcher, log: log}
}

func (j *DispatchJob) Name() string { return "dispatch-cycle" }

func (j *DispatchJob) Type() string { return DispatchCycleType }

func (j *DispatchJob) Handle(ctx context.Context, _ json.RawMessage) error {
	report := j.dispatcher.RunCycle(ctx)
	if report.Skipped {
		return nil
	}
	j.log.Debug("queued dispatch cycle completed",
		logger.Int("processed", report.Processed),
		logger.Int("delivered", report.Delivered))
	return nil
}
