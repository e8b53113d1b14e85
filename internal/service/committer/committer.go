// Package committer фиксирует позиции потребления после успешного сохранения.
package committer

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retry"
)

// Committer записывает ConsumptionPosition в PositionStore с ограниченным
// числом повторов.
type Committer struct {
	store   domain.PositionStore
	retrier *retry.Retrier
	logger  *log.Entry
	now     func() time.Time
}

// New создаёт Committer.
func New(store domain.PositionStore, retrier *retry.Retrier, logger *log.Entry) *Committer {
	if logger == nil {
		logger = log.New().WithField("component", "committer")
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig(), logger)
	}
	return &Committer{
		store:   store,
		retrier: retrier,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Commit сохраняет nextOffset как первый необработанный offset партиции.
// Возвращает фактически сохранённую позицию: она может быть больше запрошенной,
// если в хранилище уже лежит более поздний прогресс.
func (c *Committer) Commit(ctx context.Context, tp domain.TopicPartition, nextOffset int64) (domain.ConsumptionPosition, error) {
	if nextOffset < 0 {
		return domain.ConsumptionPosition{}, fmt.Errorf("commit %s: negative next offset %d", tp, nextOffset)
	}

	position := domain.ConsumptionPosition{
		Topic:      tp.Topic,
		Partition:  tp.Partition,
		NextOffset: nextOffset,
		UpdatedAt:  c.now(),
	}

	var stored domain.ConsumptionPosition
	attempts, err := c.retrier.Do(ctx, "commit "+tp.String(), func(ctx context.Context) error {
		saved, err := c.store.Save(ctx, position)
		if err != nil {
			return err
		}
		stored = saved
		return nil
	})
	if err != nil {
		return domain.ConsumptionPosition{}, &domain.CommitError{
			Partition:  tp,
			NextOffset: nextOffset,
			Attempts:   attempts,
			Err:        err,
		}
	}

	if stored.NextOffset > nextOffset {
		c.logger.WithFields(log.Fields{
			"topic":            tp.Topic,
			"partition":        tp.Partition,
			"requested_offset": nextOffset,
			"stored_offset":    stored.NextOffset,
		}).Debug("Stored position is ahead of requested commit")
	}

	return stored, nil
}

// Load возвращает сохранённую позицию партиции. Отсутствие позиции не
// считается ошибкой: found=false.
func (c *Committer) Load(ctx context.Context, tp domain.TopicPartition) (domain.ConsumptionPosition, bool, error) {
	var (
		position domain.ConsumptionPosition
		found    bool
	)

	_, err := c.retrier.Do(ctx, "load "+tp.String(), func(ctx context.Context) error {
		loaded, err := c.store.Load(ctx, tp)
		if errors.Is(err, domain.ErrPositionNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		position, found = loaded, true
		return nil
	})
	if err != nil {
		return domain.ConsumptionPosition{}, false, fmt.Errorf("load position %s: %w", tp, err)
	}
	return position, found, nil
}
