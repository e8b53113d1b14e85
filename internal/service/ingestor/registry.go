package ingestor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/metrics"
)

// PartitionStatus — снимок состояния партиции.
type PartitionStatus struct {
	Partition domain.TopicPartition
	State     domain.PartitionState
	Err       error
	Since     time.Time
}

// Registry отслеживает состояния воркеров. Отказавшая партиция остаётся
// в состоянии FAILED до перезапуска процесса.
type Registry struct {
	mu       sync.RWMutex
	statuses map[domain.TopicPartition]PartitionStatus
	metrics  *metrics.PipelineMetrics
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(m *metrics.PipelineMetrics) *Registry {
	return &Registry{
		statuses: make(map[domain.TopicPartition]PartitionStatus),
		metrics:  m,
	}
}

func (r *Registry) set(tp domain.TopicPartition, state domain.PartitionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.statuses[tp]; ok && current.State == domain.PartitionStateFailed {
		return
	}
	r.statuses[tp] = PartitionStatus{Partition: tp, State: state, Since: time.Now().UTC()}
}

func (r *Registry) markFailed(tp domain.TopicPartition, err error) {
	r.mu.Lock()
	r.statuses[tp] = PartitionStatus{Partition: tp, State: domain.PartitionStateFailed, Err: err, Since: time.Now().UTC()}
	failed := r.failedCountLocked()
	r.mu.Unlock()

	r.metrics.SetFailedPartitions(failed)
}

func (r *Registry) release(tp domain.TopicPartition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.statuses[tp]; ok && current.State != domain.PartitionStateFailed {
		delete(r.statuses, tp)
	}
}

// State возвращает текущее состояние партиции.
func (r *Registry) State(tp domain.TopicPartition) (domain.PartitionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[tp]
	return status.State, ok
}

// IsFailed сообщает, остановлена ли партиция.
func (r *Registry) IsFailed(tp domain.TopicPartition) bool {
	state, ok := r.State(tp)
	return ok && state == domain.PartitionStateFailed
}

// Snapshot возвращает состояния всех известных партиций, отсортированные по topic/partition.
func (r *Registry) Snapshot() []PartitionStatus {
	r.mu.RLock()
	result := make([]PartitionStatus, 0, len(r.statuses))
	for _, status := range r.statuses {
		result = append(result, status)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Partition.Topic != result[j].Partition.Topic {
			return result[i].Partition.Topic < result[j].Partition.Topic
		}
		return result[i].Partition.Partition < result[j].Partition.Partition
	})
	return result
}

// Failed возвращает остановленные партиции.
func (r *Registry) Failed() []PartitionStatus {
	var failed []PartitionStatus
	for _, status := range r.Snapshot() {
		if status.State == domain.PartitionStateFailed {
			failed = append(failed, status)
		}
	}
	return failed
}

// Check возвращает ошибку, если хотя бы одна партиция в состоянии FAILED.
func (r *Registry) Check() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}

	names := make([]string, 0, len(failed))
	for _, status := range failed {
		names = append(names, status.Partition.String())
	}
	return fmt.Errorf("%w: %s", domain.ErrPartitionFailed, strings.Join(names, ", "))
}

func (r *Registry) failedCountLocked() int {
	count := 0
	for _, status := range r.statuses {
		if status.State == domain.PartitionStateFailed {
			count++
		}
	}
	return count
}
