package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "order_consumer"

// Результаты сохранения заказа.
const (
	PersistResultCreated   = "created"
	PersistResultDuplicate = "duplicate"
)

// Стадии, на которых выполняются повторы.
const (
	StagePersist    = "persist"
	StageDeadLetter = "dead_letter"
	StageCommit     = "commit"
)

// PipelineMetrics содержит метрики конвейера потребления заказов.
// Все методы безопасны для nil-получателя.
type PipelineMetrics struct {
	recordsFetched    *prometheus.CounterVec
	deadLettered      *prometheus.CounterVec
	ordersPersisted   *prometheus.CounterVec
	retries           *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	committedOffset   *prometheus.GaugeVec
	failedPartitions  prometheus.Gauge
	activePartitions  prometheus.Gauge
	deadLettersPurged prometheus.Counter
}

// NewPipelineMetrics регистрирует метрики в регистре по умолчанию.
func NewPipelineMetrics() *PipelineMetrics {
	return NewPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPipelineMetricsWithRegisterer регистрирует метрики в переданном регистре.
func NewPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		recordsFetched: register(registerer, "records_fetched_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Total number of records fetched from the broker",
		}, []string{"topic"})),
		deadLettered: register(registerer, "records_dead_lettered_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dead_lettered_total",
			Help:      "Total number of records routed to the dead-letter sink",
		}, []string{"reason"})),
		ordersPersisted: register(registerer, "orders_persisted_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_persisted_total",
			Help:      "Total number of persisted orders by result",
		}, []string{"result"})),
		retries: register(registerer, "retries_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retried operations by pipeline stage",
		}, []string{"stage"})),
		batchDuration: register(registerer, "batch_duration_seconds", prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a fetch-decode-persist-commit cycle in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		})),
		committedOffset: register(registerer, "committed_offset", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_offset",
			Help:      "Last committed next offset per partition",
		}, []string{"topic", "partition"})),
		failedPartitions: register(registerer, "failed_partitions", prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_partitions",
			Help:      "Number of partitions stopped after exhausting retries",
		})),
		activePartitions: register(registerer, "active_partitions", prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_partitions",
			Help:      "Number of partitions currently claimed by this process",
		})),
		deadLettersPurged: register(registerer, "dead_letters_purged_total", prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_purged_total",
			Help:      "Total number of expired dead letters removed by retention",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordFetched учитывает полученные из брокера записи.
func (m *PipelineMetrics) RecordFetched(topic string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recordsFetched.WithLabelValues(topic).Add(float64(count))
}

// RecordDeadLettered учитывает запись, отправленную в dead-letter sink.
func (m *PipelineMetrics) RecordDeadLettered(reason string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(reason).Inc()
}

// RecordPersisted учитывает сохранённый заказ.
func (m *PipelineMetrics) RecordPersisted(created bool) {
	if m == nil {
		return
	}
	result := PersistResultDuplicate
	if created {
		result = PersistResultCreated
	}
	m.ordersPersisted.WithLabelValues(result).Inc()
}

// RecordRetry учитывает повтор операции на стадии.
func (m *PipelineMetrics) RecordRetry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage).Inc()
}

// RecordBatchDuration записывает длительность обработки пачки.
func (m *PipelineMetrics) RecordBatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}

// RecordCommitted выставляет последнюю закоммиченную позицию партиции.
func (m *PipelineMetrics) RecordCommitted(topic string, partition int32, nextOffset int64) {
	if m == nil {
		return
	}
	m.committedOffset.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Set(float64(nextOffset))
}

// SetFailedPartitions выставляет число остановленных партиций.
func (m *PipelineMetrics) SetFailedPartitions(count int) {
	if m == nil {
		return
	}
	m.failedPartitions.Set(float64(count))
}

// PartitionClaimed увеличивает число активных партиций.
func (m *PipelineMetrics) PartitionClaimed() {
	if m == nil {
		return
	}
	m.activePartitions.Inc()
}

// PartitionReleased уменьшает число активных партиций.
func (m *PipelineMetrics) PartitionReleased() {
	if m == nil {
		return
	}
	m.activePartitions.Dec()
}

// RecordDeadLettersPurged учитывает удалённые retention-воркером записи.
func (m *PipelineMetrics) RecordDeadLettersPurged(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deadLettersPurged.Add(float64(count))
}
