// Package persister сохраняет декодированные заказы идемпотентно.
package persister

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// Service сохраняет OrderRecord ровно один раз на ключ идемпотентности.
// Повторов не делает: решение о повторе принимает вызывающий.
type Service struct {
	repo   domain.OrderRepository
	logger *log.Entry
}

// New создаёт персистер поверх репозитория заказов.
func New(repo domain.OrderRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "persister")
	}
	return &Service{repo: repo, logger: logger}
}

// Persist сохраняет запись. Если ключ уже встречался, возвращается
// существующая запись с Created=false и без ошибки.
func (s *Service) Persist(ctx context.Context, record domain.OrderRecord, key domain.IdempotencyKey) (domain.PersistedOrder, error) {
	if err := record.Validate(); err != nil {
		return domain.PersistedOrder{}, err
	}

	source, err := key.Coordinates()
	if err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("%w: %w", domain.ErrInvalidOrder, err)
	}

	order, err := s.repo.InsertIfAbsent(ctx, key, record, source)
	if err != nil {
		return domain.PersistedOrder{}, classify(ctx, key, err)
	}

	if !order.Created && !order.Record().Equal(record) {
		s.logger.WithFields(log.Fields{
			"idempotency_key": key.String(),
			"order_id":        order.ID,
			"stored_item":     order.Item,
			"stored_amount":   order.Amount.String(),
			"incoming_item":   record.Item,
			"incoming_amount": record.Amount.String(),
		}).Warn("Redelivered record differs from stored order, keeping stored version")
	}

	return order, nil
}

func classify(ctx context.Context, key domain.IdempotencyKey, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrStoreUnavailable):
		return fmt.Errorf("persist %s: %w", key, err)
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return fmt.Errorf("persist %s: %w: %w", key, domain.ErrInvalidOrder, err)
	case ctx.Err() != nil:
		return fmt.Errorf("persist %s: %w", key, err)
	default:
		return fmt.Errorf("persist %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
}

var _ domain.OrderPersister = (*Service)(nil)
