package domain

import (
	"context"
	"time"
)

// OrderDecoder превращает сырой payload в OrderRecord.
type OrderDecoder interface {
	Decode(payload []byte) (OrderRecord, error)
}

// OrderPersister сохраняет заказ идемпотентно.
type OrderPersister interface {
	Persist(ctx context.Context, record OrderRecord, key IdempotencyKey) (PersistedOrder, error)
}

// PositionStore хранит позиции потребления по партициям.
type PositionStore interface {
	// Load возвращает позицию или ErrPositionNotFound.
	Load(ctx context.Context, tp TopicPartition) (ConsumptionPosition, error)
	// Save сохраняет позицию; позиция никогда не сдвигается назад.
	Save(ctx context.Context, position ConsumptionPosition) (ConsumptionPosition, error)
	// List возвращает все сохранённые позиции.
	List(ctx context.Context) ([]ConsumptionPosition, error)
}

// DeadLetterSink принимает сообщения, которые невозможно обработать.
// Реализации должны быть безопасны для конкурентного использования.
type DeadLetterSink interface {
	Send(ctx context.Context, letter DeadLetter) error
}

// DeadLetterRetention удаляет устаревшие dead-letter записи.
type DeadLetterRetention interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
