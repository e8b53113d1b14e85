package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]domain.PersistedOrder
	byKey  map[domain.IdempotencyKey]int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		byID:  make(map[int64]domain.PersistedOrder),
		byKey: make(map[domain.IdempotencyKey]int64),
	}
}

// InsertIfAbsent атомарно вставляет заказ под одним mutex, повторяя семантику
// уникального ограничения в PostgreSQL.
func (r *orderRepositoryInMemory) InsertIfAbsent(ctx context.Context, key domain.IdempotencyKey, record domain.OrderRecord, source domain.SourceCoordinates) (domain.PersistedOrder, error) {
	if strings.TrimSpace(key.String()) == "" {
		return domain.PersistedOrder{}, domain.ErrIdempotencyKeyRequired
	}
	if err := ctx.Err(); err != nil {
		return domain.PersistedOrder{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		existing := r.byID[id]
		existing.Created = false
		return existing, nil
	}

	r.nextID++
	order := domain.PersistedOrder{
		ID:             r.nextID,
		IdempotencyKey: key,
		Item:           record.Item,
		Amount:         record.Amount,
		Source:         source,
		CreatedAt:      time.Now().UTC(),
	}
	r.byID[order.ID] = order
	r.byKey[key] = order.ID

	order.Created = true
	return order, nil
}

// FindByID возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) FindByID(_ context.Context, id int64) (domain.PersistedOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.byID[id]
	if !ok {
		return domain.PersistedOrder{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// FindByIdempotencyKey возвращает заказ по ключу или ErrOrderNotFound.
func (r *orderRepositoryInMemory) FindByIdempotencyKey(_ context.Context, key domain.IdempotencyKey) (domain.PersistedOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return domain.PersistedOrder{}, domain.ErrOrderNotFound
	}
	return r.byID[id], nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
