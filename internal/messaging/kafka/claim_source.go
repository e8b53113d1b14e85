package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/ingestor"
)

// claimSource адаптирует claim consumer group к ingestor.PartitionSource.
type claimSource struct {
	session sarama.ConsumerGroupSession
	claim   sarama.ConsumerGroupClaim
	tp      domain.TopicPartition
}

func newClaimSource(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) *claimSource {
	return &claimSource{
		session: session,
		claim:   claim,
		tp:      domain.TopicPartition{Topic: claim.Topic(), Partition: claim.Partition()},
	}
}

func (s *claimSource) TopicPartition() domain.TopicPartition {
	return s.tp
}

// Fetch ждёт первое сообщение не дольше idleWait, затем без ожидания
// добирает то, что уже лежит в канале claim.
func (s *claimSource) Fetch(ctx context.Context, max int, idleWait time.Duration) ([]domain.RawRecord, error) {
	if max <= 0 {
		max = 1
	}
	messages := s.claim.Messages()

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	var first *sarama.ConsumerMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg, ok := <-messages:
		if !ok || msg == nil {
			return nil, ingestor.ErrSourceClosed
		}
		first = msg
	}

	records := make([]domain.RawRecord, 0, max)
	records = append(records, toRawRecord(first))
	for len(records) < max {
		select {
		case msg, ok := <-messages:
			if !ok || msg == nil {
				return records, nil
			}
			records = append(records, toRawRecord(msg))
		default:
			return records, nil
		}
	}
	return records, nil
}

func (s *claimSource) Acknowledge(nextOffset int64) {
	s.session.MarkOffset(s.tp.Topic, s.tp.Partition, nextOffset, "")
}

func toRawRecord(msg *sarama.ConsumerMessage) domain.RawRecord {
	return domain.RawRecord{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Payload:   msg.Value,
		Timestamp: msg.Timestamp,
	}
}

var _ ingestor.PartitionSource = (*claimSource)(nil)
