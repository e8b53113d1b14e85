package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

func TestOrderRepository_PostgresInsertIfAbsent(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	src := domain.SourceCoordinates{Topic: "orders", Partition: 0, Offset: 42}
	key := domain.NewIdempotencyKey(src)
	record := domain.OrderRecord{Item: "widget", Amount: decimal.RequireFromString("9.99")}

	first, err := repo.InsertIfAbsent(ctx, key, record, src)
	require.NoError(t, err)
	require.True(t, first.Created)
	require.NotZero(t, first.ID)

	second, err := repo.InsertIfAbsent(ctx, key, record, src)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.ID, second.ID)

	got, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "widget", got.Item)
	require.True(t, got.Amount.Equal(record.Amount), "amount=%s", got.Amount)
	require.Equal(t, src, got.Source)
	require.Equal(t, key, got.IdempotencyKey)

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestOrderRepository_PostgresDuplicateKeepsStoredRow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	src := domain.SourceCoordinates{Topic: "orders", Partition: 2, Offset: 11}
	key := domain.NewIdempotencyKey(src)

	first, err := repo.InsertIfAbsent(ctx, key, domain.OrderRecord{Item: "lamp", Amount: decimal.NewFromInt(40)}, src)
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := repo.InsertIfAbsent(ctx, key, domain.OrderRecord{Item: "lamp-v2", Amount: decimal.NewFromInt(41)}, src)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "lamp", second.Item)
	require.True(t, second.Amount.Equal(decimal.NewFromInt(40)), "amount=%s", second.Amount)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestOrderRepository_PostgresAmountPrecision(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	src := domain.SourceCoordinates{Topic: "orders", Partition: 2, Offset: 12}
	amount := decimal.RequireFromString("99999999999999999999.999999999999999999")

	order, err := repo.InsertIfAbsent(ctx, domain.NewIdempotencyKey(src), domain.OrderRecord{Item: "max", Amount: amount}, src)
	require.NoError(t, err)
	require.True(t, order.Amount.Equal(amount), "amount=%s", order.Amount)
}

func TestOrderRepository_PostgresConcurrentDuplicates(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	src := domain.SourceCoordinates{Topic: "orders", Partition: 1, Offset: 7}
	key := domain.NewIdempotencyKey(src)
	record := domain.OrderRecord{Item: "gadget", Amount: decimal.NewFromInt(3)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := repo.InsertIfAbsent(ctx, key, record, src)
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if order.Created {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
}

func TestOrderRepository_PostgresCheckViolationIsInvalidOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	src := domain.SourceCoordinates{Topic: "orders", Partition: 0, Offset: 1}
	_, err := repo.InsertIfAbsent(context.Background(), domain.NewIdempotencyKey(src), domain.OrderRecord{
		Item:   "widget",
		Amount: decimal.RequireFromString("-1"),
	}, src)
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrInvalidOrder), "got %v", err)
}

func TestOrderRepository_PostgresNotFound(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)

	_, err := repo.FindByID(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = repo.FindByIdempotencyKey(context.Background(), "orders/0/999")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
