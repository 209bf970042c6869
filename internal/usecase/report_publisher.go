package usecase

import (
	"context"
	"fmt"

	"SigRelay/internal/domain/models"
	"SigRelay/pkg/kafka"
)

// KafkaReporter publishes cycle reports to a Kafka topic, keyed by
// worker so one worker's reports stay ordered.
type KafkaReporter struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaReporter(producer *kafka.Producer, topic string) *KafkaReporter {
	return &KafkaReporter{producer: producer, topic: topic}
}

func (r *KafkaReporter) PublishReport(ctx context.Context, report *models.CycleReport) error {
	if err := r.producer.Publish(ctx, r.topic, []byte(report.Worker), report); err != nil {
		return fmt.Errorf("publish cycle report: %w", err)
	}
	return nil
}
