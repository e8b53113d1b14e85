package ingestor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/order-consumer/internal/decoder"
	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/metrics"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/committer"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/persister"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retry"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/memory"
)

var partition0 = domain.TopicPartition{Topic: "orders", Partition: 0}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "ingestor-test")
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func raw(tp domain.TopicPartition, offset int64, payload string) domain.RawRecord {
	return domain.RawRecord{
		Topic:     tp.Topic,
		Partition: tp.Partition,
		Offset:    offset,
		Payload:   []byte(payload),
		Timestamp: time.Now().UTC(),
	}
}

func keyFor(tp domain.TopicPartition, offset int64) domain.IdempotencyKey {
	return domain.NewIdempotencyKey(domain.SourceCoordinates{Topic: tp.Topic, Partition: tp.Partition, Offset: offset})
}

// fakeSource отдаёт заранее заданные пачки, затем сообщает о закрытии.
type fakeSource struct {
	tp domain.TopicPartition

	mu         sync.Mutex
	batches    [][]domain.RawRecord
	acked      []int64
	fetchCalls int
}

func newFakeSource(tp domain.TopicPartition, batches ...[]domain.RawRecord) *fakeSource {
	return &fakeSource{tp: tp, batches: batches}
}

func (s *fakeSource) TopicPartition() domain.TopicPartition { return s.tp }

func (s *fakeSource) Fetch(ctx context.Context, max int, _ time.Duration) ([]domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.batches) == 0 {
		return nil, ErrSourceClosed
	}
	batch := s.batches[0]
	if len(batch) > max {
		s.batches[0] = batch[max:]
		return batch[:max], nil
	}
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *fakeSource) Acknowledge(next int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, next)
}

func (s *fakeSource) Acked() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.acked...)
}

func (s *fakeSource) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// persisterFunc позволяет подменить поведение персистера в тесте.
type persisterFunc func(ctx context.Context, record domain.OrderRecord, key domain.IdempotencyKey) (domain.PersistedOrder, error)

func (f persisterFunc) Persist(ctx context.Context, record domain.OrderRecord, key domain.IdempotencyKey) (domain.PersistedOrder, error) {
	return f(ctx, record, key)
}

// flakyPositions отказывает в Save заданное число раз.
type flakyPositions struct {
	domain.PositionStore
	mu       sync.Mutex
	failures int
}

func (s *flakyPositions) Save(ctx context.Context, position domain.ConsumptionPosition) (domain.ConsumptionPosition, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return domain.ConsumptionPosition{}, domain.ErrStoreUnavailable
	}
	return s.PositionStore.Save(ctx, position)
}

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) Send(context.Context, domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return domain.ErrDeadLetterUnavailable
}

type harness struct {
	repo      domain.OrderRepository
	positions domain.PositionStore
	sink      *memory.DeadLetterSink
	persister domain.OrderPersister
	committer *committer.Committer
	registry  *Registry
	ingestor  *Ingestor
}

type harnessOption func(*harness, *Dependencies, *Config)

func withPersister(p domain.OrderPersister) harnessOption {
	return func(_ *harness, deps *Dependencies, _ *Config) { deps.Persister = p }
}

func withRepo(repo domain.OrderRepository) harnessOption {
	return func(h *harness, _ *Dependencies, _ *Config) { h.repo = repo }
}

func withPositions(store domain.PositionStore) harnessOption {
	return func(h *harness, _ *Dependencies, _ *Config) { h.positions = store }
}

func withSink(sink domain.DeadLetterSink) harnessOption {
	return func(_ *harness, deps *Dependencies, _ *Config) { deps.Sink = sink }
}

func withConfig(fn func(*Config)) harnessOption {
	return func(_ *harness, _ *Dependencies, cfg *Config) { fn(cfg) }
}

func withMetrics(m *metrics.PipelineMetrics) harnessOption {
	return func(_ *harness, deps *Dependencies, _ *Config) { deps.Metrics = m }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		repo:      memory.NewOrderRepository(),
		positions: memory.NewPositionStore(),
		sink:      memory.NewDeadLetterSink(),
	}
	cfg := Config{
		MaxBatchSize:  100,
		IdleWait:      5 * time.Millisecond,
		ShutdownGrace: time.Second,
		Retry:         fastRetry(5),
	}
	deps := Dependencies{Decoder: decoder.New(), Logger: quietLogger()}

	for _, opt := range opts {
		opt(h, &deps, &cfg)
	}

	// Хранилища могли быть подменены опциями, поэтому зависимости
	// поверх них собираются после применения опций.
	if deps.Persister == nil {
		deps.Persister = persister.New(h.repo, quietLogger())
	}
	if deps.Sink == nil {
		deps.Sink = h.sink
	}
	h.persister = deps.Persister
	h.committer = committer.New(h.positions, retry.New(cfg.Retry, quietLogger()), quietLogger())
	deps.Committer = h.committer
	h.registry = NewRegistry(deps.Metrics)
	deps.Registry = h.registry

	ing, err := New(deps, cfg)
	require.NoError(t, err)
	h.ingestor = ing
	return h
}

func (h *harness) position(t *testing.T, tp domain.TopicPartition) (int64, bool) {
	t.Helper()
	position, err := h.positions.Load(context.Background(), tp)
	if err != nil {
		require.ErrorIs(t, err, domain.ErrPositionNotFound)
		return 0, false
	}
	return position.NextOffset, true
}

func (h *harness) order(t *testing.T, tp domain.TopicPartition, offset int64) (domain.PersistedOrder, bool) {
	t.Helper()
	order, err := h.repo.FindByIdempotencyKey(context.Background(), keyFor(tp, offset))
	if err != nil {
		require.ErrorIs(t, err, domain.ErrOrderNotFound)
		return domain.PersistedOrder{}, false
	}
	return order, true
}

func onPartition(key domain.IdempotencyKey, partition string) bool {
	return strings.Contains(key.String(), "/"+partition+"/")
}

// deadLetteredByReason снимает счётчик dead-letter записей по меткам reason.
func deadLetteredByReason(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != "order_consumer_records_dead_lettered_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" {
					counts[label.GetValue()] += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return counts
}
