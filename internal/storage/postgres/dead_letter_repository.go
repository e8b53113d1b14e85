package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// DeadLetterRepository хранит dead-letter записи в таблице dead_letters.
type DeadLetterRepository struct {
	db *sql.DB
}

// NewDeadLetterRepository создаёт PostgreSQL dead-letter sink.
func NewDeadLetterRepository(store *Store) *DeadLetterRepository {
	return &DeadLetterRepository{db: store.DB()}
}

// Send идемпотентен по ID записи.
func (r *DeadLetterRepository) Send(ctx context.Context, letter domain.DeadLetter) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, source_topic, source_partition, source_offset, message_key, payload, reason, field, failed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`,
		letter.ID.String(),
		letter.Source.Topic,
		letter.Source.Partition,
		letter.Source.Offset,
		letter.Source.Key,
		nonNilBytes(letter.Source.Payload),
		letter.Reason,
		letter.Field,
		letter.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert dead letter: %w", domain.ErrDeadLetterUnavailable, err)
	}
	return nil
}

// DeleteExpired удаляет записи с failed_at <= before порциями по limit.
func (r *DeadLetterRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if limit > 0 {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM dead_letters
			WHERE id IN (
				SELECT id FROM dead_letters
				WHERE failed_at <= $1
				ORDER BY failed_at ASC
				LIMIT $2
			)
		`, before, limit)
	} else {
		res, err = r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE failed_at <= $1`, before)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired dead letters: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("dead letters rows affected: %w", err)
	}
	return int(affected), nil
}

// Count возвращает число хранимых записей.
func (r *DeadLetterRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

var (
	_ domain.DeadLetterSink      = (*DeadLetterRepository)(nil)
	_ domain.DeadLetterRetention = (*DeadLetterRepository)(nil)
)
