package domain

import (
	"strconv"
	"time"
)

// TopicPartition идентифицирует партицию топика.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "[" + strconv.FormatInt(int64(tp.Partition), 10) + "]"
}

// RawRecord — сырое сообщение, полученное из брокера.
type RawRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Payload   []byte
	Timestamp time.Time
}

// Source возвращает координаты сообщения.
func (r RawRecord) Source() SourceCoordinates {
	return SourceCoordinates{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}
}

// TopicPartition возвращает партицию, из которой пришло сообщение.
func (r RawRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}
