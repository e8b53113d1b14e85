package domain

import "time"

// ConsumptionPosition хранит последний закоммиченный прогресс по партиции.
// NextOffset — первый offset, который ещё не обработан.
type ConsumptionPosition struct {
	Topic      string
	Partition  int32
	NextOffset int64
	UpdatedAt  time.Time
}

// TopicPartition возвращает партицию позиции.
func (p ConsumptionPosition) TopicPartition() TopicPartition {
	return TopicPartition{Topic: p.Topic, Partition: p.Partition}
}

// PartitionState описывает состояние воркера партиции.
type PartitionState string

const (
	PartitionStateIdle       PartitionState = "idle"
	PartitionStateFetching   PartitionState = "fetching"
	PartitionStateDecoding   PartitionState = "decoding"
	PartitionStatePersisting PartitionState = "persisting"
	PartitionStateCommitting PartitionState = "committing"
	PartitionStateFailed     PartitionState = "failed"
)

// Valid проверяет, что состояние относится к поддерживаемым значениям.
func (s PartitionState) Valid() bool {
	switch s {
	case PartitionStateIdle, PartitionStateFetching, PartitionStateDecoding,
		PartitionStatePersisting, PartitionStateCommitting, PartitionStateFailed:
		return true
	default:
		return false
	}
}
