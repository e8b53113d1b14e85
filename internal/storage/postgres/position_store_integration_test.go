package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

func TestPositionStore_PostgresMonotonicUpsert(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	positions := NewPositionStore(store)
	ctx := context.Background()
	tp := domain.TopicPartition{Topic: "orders", Partition: 0}

	_, err := positions.Load(ctx, tp)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	saved, err := positions.Save(ctx, domain.ConsumptionPosition{Topic: "orders", Partition: 0, NextOffset: 43})
	require.NoError(t, err)
	require.EqualValues(t, 43, saved.NextOffset)

	stale, err := positions.Save(ctx, domain.ConsumptionPosition{Topic: "orders", Partition: 0, NextOffset: 40})
	require.NoError(t, err)
	require.EqualValues(t, 43, stale.NextOffset)

	advanced, err := positions.Save(ctx, domain.ConsumptionPosition{Topic: "orders", Partition: 0, NextOffset: 50})
	require.NoError(t, err)
	require.EqualValues(t, 50, advanced.NextOffset)

	loaded, err := positions.Load(ctx, tp)
	require.NoError(t, err)
	require.EqualValues(t, 50, loaded.NextOffset)

	list, err := positions.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
