package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// DeadLetterSink публикует необработанные записи в DLQ topic.
// sarama.SyncProducer безопасен для конкурентного использования.
type DeadLetterSink struct {
	producer *Producer
	topic    string
}

// NewDeadLetterSink создаёт Kafka dead-letter sink.
func NewDeadLetterSink(producer *Producer, topic string) *DeadLetterSink {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &DeadLetterSink{producer: producer, topic: topic}
}

func (s *DeadLetterSink) Send(ctx context.Context, letter domain.DeadLetter) error {
	if s == nil || s.producer == nil {
		return fmt.Errorf("%w: kafka dead letter sink is not initialized", domain.ErrDeadLetterUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	envelope := NewDeadLetterEnvelope(letter)
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode dead letter envelope: %w", err)
	}

	if _, _, err := s.producer.PublishMessage(s.topic, string(letter.Source.Key), payload, envelope.Headers()); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeadLetterUnavailable, err)
	}
	return nil
}

var _ domain.DeadLetterSink = (*DeadLetterSink)(nil)
