package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

func TestPositionStore_KeyRoundTrip(t *testing.T) {
	store := NewPositionStore(nil, "/custom/positions/")
	tp := domain.TopicPartition{Topic: "shop/orders", Partition: 12}

	key := store.key(tp)
	require.Equal(t, "/custom/positions/shop/orders/12", key)

	parsed, err := store.parseKey(key)
	require.NoError(t, err)
	require.Equal(t, tp, parsed)

	_, err = store.parseKey("/custom/positions/orders")
	require.Error(t, err)
}

func TestPositionStore_DefaultPrefix(t *testing.T) {
	store := NewPositionStore(nil, "  ")
	require.Equal(t, DefaultPrefix, store.prefix)
}

func TestPositionStore_EncodeDecode(t *testing.T) {
	tp := domain.TopicPartition{Topic: "orders", Partition: 0}
	now := time.Date(2026, 4, 19, 10, 0, 0, 0, time.UTC)

	raw, err := encodePosition(domain.ConsumptionPosition{Topic: "orders", NextOffset: 43, UpdatedAt: now})
	require.NoError(t, err)

	position, err := decodePosition(tp, []byte(raw))
	require.NoError(t, err)
	require.EqualValues(t, 43, position.NextOffset)
	require.True(t, position.UpdatedAt.Equal(now))

	_, err = encodePosition(domain.ConsumptionPosition{NextOffset: -1})
	require.Error(t, err)

	_, err = decodePosition(tp, []byte("not-json"))
	require.Error(t, err)
}

func TestPositionStore_EtcdIntegration(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("ORDERS_ETCD_TEST_ENDPOINTS"))
	if raw == "" {
		t.Skip("ORDERS_ETCD_TEST_ENDPOINTS is not set")
	}

	client, err := NewClient(strings.Split(raw, ","))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "/order-consumer-test/" + time.Now().UTC().Format("20060102150405.000000000")
	store := NewPositionStore(client, prefix)
	ctx := context.Background()
	tp := domain.TopicPartition{Topic: "orders", Partition: 0}

	_, err = store.Load(ctx, tp)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = store.Save(ctx, domain.ConsumptionPosition{Topic: "orders", Partition: 0, NextOffset: 43})
	require.NoError(t, err)

	kept, err := store.Save(ctx, domain.ConsumptionPosition{Topic: "orders", Partition: 0, NextOffset: 10})
	require.NoError(t, err)
	require.EqualValues(t, 43, kept.NextOffset)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, tp, list[0].TopicPartition())
}
