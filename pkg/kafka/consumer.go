package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"SigRelay/pkg/logger"
)

// MessageHandler processes records from one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// ConsumerConfig holds reader and worker-pool configuration.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Workers    int
	BufferSize int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	DLQTopic   string
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*ConsumerConfig)

// WithConsumerBrokers sets the broker list.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

// WithConsumerGroupID sets the consumer group.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) { c.GroupID = groupID }
}

// WithConsumerWorkers sets the worker pool size.
func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.Workers = n
		}
	}
}

// WithConsumerBufferSize sets the internal channel buffer.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry configures per-message retries and backoff range.
func WithConsumerRetry(maxAttempts int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = maxAttempts
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes exhausted messages to a dead-letter topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

type record struct {
	topic string
	data  []byte
}

// Consumer reads registered topics through a shared worker pool. Each
// message is retried with jittered backoff before going to the DLQ.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	records  chan record
	dlq      *kafka.Writer

	stopOnce sync.Once
	stopCh   chan struct{}
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
}

func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "sigrelay",
		Workers:    1,
		BufferSize: 64,
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		records:  make(chan record, cfg.BufferSize),
		stopCh:   make(chan struct{}),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler binds a handler to its topic. Must be called before
// Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Start creates one reader per registered topic and launches the
// worker pool.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}

	for i := 0; i < c.cfg.Workers; i++ {
		c.workerWg.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.readerWg.Add(1)
		go c.readLoop(topic, reader)
	}

	c.log.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.Workers),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop shuts the consumer down, honoring the context deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		close(c.stopCh)

		// records closes only after every readLoop has exited, so no
		// send can race the close; workers then drain what is buffered
		done := make(chan struct{})
		go func() {
			c.readerWg.Wait()
			close(c.records)
			c.workerWg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("consumer stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("close reader failed",
					logger.String("topic", topic),
					logger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
	})
	return stopErr
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.readerWg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.log.Error("read message failed",
					logger.String("topic", topic),
					logger.Error(err))
			}
			continue
		}

		select {
		case c.records <- record{topic: topic, data: msg.Value}:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workerWg.Done()
	for rec := range c.records {
		handler, ok := c.handlers[rec.topic]
		if !ok {
			continue
		}
		c.handleWithRetry(handler, rec)
	}
}

func (c *Consumer) handleWithRetry(h MessageHandler, rec record) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked",
				logger.String("topic", rec.topic),
				logger.Any("panic", r))
			c.deadLetter(rec)
		}
	}()

	var err error
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		if attempt > 0 {
			time.Sleep(c.backoff(attempt))
		}
		if err = h.Handle(context.Background(), rec.data); err == nil {
			return
		}
		c.log.Warn("handler failed",
			logger.String("topic", rec.topic),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	c.deadLetter(rec)
}

func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffMin << (attempt - 1)
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d + time.Duration(rand.Int63n(int64(c.cfg.BackoffMin)+1))
}

func (c *Consumer) deadLetter(rec record) {
	if c.dlq == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Value: rec.data,
	})
	if err != nil {
		c.log.Error("dead-letter write failed",
			logger.String("topic", rec.topic),
			logger.Error(err))
	}
}
