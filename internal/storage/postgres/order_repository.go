package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

const orderColumns = `id, idempotency_key, items, amount, source_topic, source_partition, source_offset, created_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// InsertIfAbsent выполняет один INSERT ... ON CONFLICT. При конфликте
// по orders_idempotency_key_uq no-op UPDATE возвращает уже сохранённую строку;
// xmax = 0 только у строки, вставленной этим запросом.
func (r *orderRepository) InsertIfAbsent(ctx context.Context, key domain.IdempotencyKey, record domain.OrderRecord, source domain.SourceCoordinates) (domain.PersistedOrder, error) {
	if strings.TrimSpace(key.String()) == "" {
		return domain.PersistedOrder{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var created bool
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			idempotency_key, items, amount, source_topic, source_partition, source_offset, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT ON CONSTRAINT orders_idempotency_key_uq
		DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
		RETURNING `+orderColumns+`, (xmax = 0) AS created
	`,
		string(key),
		record.Item,
		record.Amount,
		source.Topic,
		source.Partition,
		source.Offset,
		time.Now().UTC(),
	)
	order, err := scanOrder(row, &created)
	if err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("insert order %s: %w", key, err)
	}

	order.Created = created
	return order, nil
}

func (r *orderRepository) FindByID(ctx context.Context, id int64) (domain.PersistedOrder, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key domain.IdempotencyKey) (domain.PersistedOrder, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, string(key))
	return scanOrder(row)
}

// scanOrder читает orderColumns и, при наличии, дополнительные колонки в extra.
func scanOrder(row *sql.Row, extra ...any) (domain.PersistedOrder, error) {
	var (
		order domain.PersistedOrder
		key   string
	)
	dest := []any{
		&order.ID,
		&key,
		&order.Item,
		&order.Amount,
		&order.Source.Topic,
		&order.Source.Partition,
		&order.Source.Offset,
		&order.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PersistedOrder{}, domain.ErrOrderNotFound
		}
		return domain.PersistedOrder{}, translateError("select order", err)
	}
	order.IdempotencyKey = domain.IdempotencyKey(key)
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
