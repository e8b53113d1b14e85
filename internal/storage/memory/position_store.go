package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

type positionStoreInMemory struct {
	mu        sync.RWMutex
	positions map[domain.TopicPartition]domain.ConsumptionPosition
}

// NewPositionStore создаёт in-memory хранилище позиций.
func NewPositionStore() domain.PositionStore {
	return &positionStoreInMemory{
		positions: make(map[domain.TopicPartition]domain.ConsumptionPosition),
	}
}

func (s *positionStoreInMemory) Load(_ context.Context, tp domain.TopicPartition) (domain.ConsumptionPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	position, ok := s.positions[tp]
	if !ok {
		return domain.ConsumptionPosition{}, domain.ErrPositionNotFound
	}
	return position, nil
}

// Save сохраняет позицию, не позволяя ей уменьшиться.
func (s *positionStoreInMemory) Save(ctx context.Context, position domain.ConsumptionPosition) (domain.ConsumptionPosition, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConsumptionPosition{}, err
	}
	if position.UpdatedAt.IsZero() {
		position.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tp := position.TopicPartition()
	if current, ok := s.positions[tp]; ok && current.NextOffset > position.NextOffset {
		return current, nil
	}
	s.positions[tp] = position
	return position, nil
}

func (s *positionStoreInMemory) List(_ context.Context) ([]domain.ConsumptionPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ConsumptionPosition, 0, len(s.positions))
	for _, position := range s.positions {
		result = append(result, position)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Topic != result[j].Topic {
			return result[i].Topic < result[j].Topic
		}
		return result[i].Partition < result[j].Partition
	})
	return result, nil
}

var _ domain.PositionStore = (*positionStoreInMemory)(nil)
