package ingestor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

func TestRegistry_FailedStateIsSticky(t *testing.T) {
	r := NewRegistry(nil)
	tp := domain.TopicPartition{Topic: "orders", Partition: 2}

	r.set(tp, domain.PartitionStateFetching)
	require.NoError(t, r.Check())

	r.markFailed(tp, errors.New("boom"))
	r.set(tp, domain.PartitionStateFetching)
	r.release(tp)

	assert.True(t, r.IsFailed(tp))
	require.ErrorIs(t, r.Check(), domain.ErrPartitionFailed)

	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.EqualError(t, failed[0].Err, "boom")
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.set(domain.TopicPartition{Topic: "b", Partition: 0}, domain.PartitionStateIdle)
	r.set(domain.TopicPartition{Topic: "a", Partition: 3}, domain.PartitionStateIdle)
	r.set(domain.TopicPartition{Topic: "a", Partition: 1}, domain.PartitionStateCommitting)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "a[1]", snapshot[0].Partition.String())
	assert.Equal(t, "a[3]", snapshot[1].Partition.String())
	assert.Equal(t, "b[0]", snapshot[2].Partition.String())
	assert.Equal(t, domain.PartitionStateCommitting, snapshot[0].State)

	r.release(domain.TopicPartition{Topic: "b", Partition: 0})
	assert.Len(t, r.Snapshot(), 2)
}
