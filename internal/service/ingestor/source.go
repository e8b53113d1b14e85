package ingestor

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// ErrSourceClosed — источник больше не отдаёт записи (например, партицию
// забрали при ребалансировке).
var ErrSourceClosed = errors.New("partition source closed")

// PartitionSource — упорядоченный поток записей одной партиции.
type PartitionSource interface {
	TopicPartition() domain.TopicPartition
	// Fetch возвращает до max записей. Если записей нет, ждёт не дольше
	// idleWait и возвращает пустую пачку.
	Fetch(ctx context.Context, max int, idleWait time.Duration) ([]domain.RawRecord, error)
	// Acknowledge сообщает брокеру, что всё до nextOffset обработано.
	Acknowledge(nextOffset int64)
}
