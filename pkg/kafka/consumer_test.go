package kafka

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"SigRelay/pkg/logger"
)

type countingHandler struct {
	topic   string
	handled atomic.Int64
}

func (h *countingHandler) Topic() string { return h.topic }

func (h *countingHandler) Handle(context.Context, []byte) error {
	h.handled.Add(1)
	return nil
}

func TestStopDrainsBufferedRecords(t *testing.T) {
	c, err := NewConsumer(logger.Nop(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(2),
	)
	require.NoError(t, err)

	h := &countingHandler{topic: "signals.detected"}
	c.RegisterHandler(h)

	for i := 0; i < 5; i++ {
		c.records <- record{topic: h.topic, data: []byte("{}")}
	}
	c.workerWg.Add(2)
	go c.worker()
	go c.worker()

	require.NoError(t, c.Stop(context.Background()))
	require.Equal(t, int64(5), h.handled.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	c, err := NewConsumer(logger.Nop(), WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)

	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}
