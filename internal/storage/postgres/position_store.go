package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

type positionStore struct {
	db *sql.DB
}

// NewPositionStore создаёт PostgreSQL-реализацию PositionStore (таблица consumption_positions).
func NewPositionStore(store *Store) domain.PositionStore {
	return &positionStore{db: store.DB()}
}

func (s *positionStore) Load(ctx context.Context, tp domain.TopicPartition) (domain.ConsumptionPosition, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	position := domain.ConsumptionPosition{Topic: tp.Topic, Partition: tp.Partition}
	err := s.db.QueryRowContext(ctx, `
		SELECT next_offset, updated_at
		FROM consumption_positions
		WHERE topic = $1 AND partition = $2
	`, tp.Topic, tp.Partition).Scan(&position.NextOffset, &position.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ConsumptionPosition{}, domain.ErrPositionNotFound
		}
		return domain.ConsumptionPosition{}, translateError("select position", err)
	}
	return position, nil
}

// Save выполняет upsert, который обновляет строку только при движении вперёд.
// Возвращает фактически сохранённую позицию.
func (s *positionStore) Save(ctx context.Context, position domain.ConsumptionPosition) (domain.ConsumptionPosition, error) {
	if position.UpdatedAt.IsZero() {
		position.UpdatedAt = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	saved := domain.ConsumptionPosition{Topic: position.Topic, Partition: position.Partition}
	err := s.db.QueryRowContext(ctx, `
		WITH upsert AS (
			INSERT INTO consumption_positions (topic, partition, next_offset, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (topic, partition) DO UPDATE
			SET next_offset = EXCLUDED.next_offset,
			    updated_at = EXCLUDED.updated_at
			WHERE consumption_positions.next_offset <= EXCLUDED.next_offset
			RETURNING next_offset, updated_at
		)
		SELECT next_offset, updated_at FROM upsert
		UNION ALL
		SELECT next_offset, updated_at FROM consumption_positions
		WHERE topic = $1 AND partition = $2 AND NOT EXISTS (SELECT 1 FROM upsert)
	`, position.Topic, position.Partition, position.NextOffset, position.UpdatedAt).Scan(&saved.NextOffset, &saved.UpdatedAt)
	if err != nil {
		return domain.ConsumptionPosition{}, translateError("upsert position", err)
	}
	return saved, nil
}

func (s *positionStore) List(ctx context.Context) ([]domain.ConsumptionPosition, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, partition, next_offset, updated_at
		FROM consumption_positions
		ORDER BY topic, partition
	`)
	if err != nil {
		return nil, translateError("list positions", err)
	}
	defer rows.Close()

	var positions []domain.ConsumptionPosition
	for rows.Next() {
		var p domain.ConsumptionPosition
		if err := rows.Scan(&p.Topic, &p.Partition, &p.NextOffset, &p.UpdatedAt); err != nil {
			return nil, translateError("scan position", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("iterate positions", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*positionStore)(nil)
