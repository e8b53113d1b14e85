// Package ingestor оркестрирует обработку партиций:
// fetch → decode → persist → commit.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/metrics"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retry"
)

// Committer фиксирует позиции партиций.
type Committer interface {
	Commit(ctx context.Context, tp domain.TopicPartition, nextOffset int64) (domain.ConsumptionPosition, error)
	Load(ctx context.Context, tp domain.TopicPartition) (domain.ConsumptionPosition, bool, error)
}

// Config параметры воркеров партиций.
type Config struct {
	MaxBatchSize  int
	IdleWait      time.Duration
	ShutdownGrace time.Duration
	Retry         retry.Config
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  100,
		IdleWait:      500 * time.Millisecond,
		ShutdownGrace: 10 * time.Second,
		Retry:         retry.DefaultConfig(),
	}
}

// Dependencies зависимости Ingestor.
type Dependencies struct {
	Decoder   domain.OrderDecoder
	Persister domain.OrderPersister
	Committer Committer
	Sink      domain.DeadLetterSink
	Metrics   *metrics.PipelineMetrics
	Registry  *Registry
	Logger    *log.Entry
}

// Ingestor запускает по одному последовательному воркеру на партицию.
// Разные партиции обрабатываются независимо и параллельно.
type Ingestor struct {
	cfg       Config
	decoder   domain.OrderDecoder
	persister domain.OrderPersister
	committer Committer
	sink      domain.DeadLetterSink
	metrics   *metrics.PipelineMetrics
	registry  *Registry
	logger    *log.Entry

	persistRetry    *retry.Retrier
	deadLetterRetry *retry.Retrier
}

// New создаёт Ingestor.
func New(deps Dependencies, cfg Config) (*Ingestor, error) {
	switch {
	case deps.Decoder == nil:
		return nil, errors.New("ingestor: decoder is required")
	case deps.Persister == nil:
		return nil, errors.New("ingestor: persister is required")
	case deps.Committer == nil:
		return nil, errors.New("ingestor: committer is required")
	case deps.Sink == nil:
		return nil, errors.New("ingestor: dead letter sink is required")
	}

	defaults := DefaultConfig()
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaults.MaxBatchSize
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = defaults.IdleWait
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaults.ShutdownGrace
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "ingestor")
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry(deps.Metrics)
	}

	persistRetry := retry.New(cfg.Retry, logger).
		WithNotifier(func(string, int, error) { deps.Metrics.RecordRetry(metrics.StagePersist) })
	deadLetterRetry := retry.New(cfg.Retry, logger).
		WithShouldRetry(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}).
		WithNotifier(func(string, int, error) { deps.Metrics.RecordRetry(metrics.StageDeadLetter) })

	return &Ingestor{
		cfg:             cfg,
		decoder:         deps.Decoder,
		persister:       deps.Persister,
		committer:       deps.Committer,
		sink:            deps.Sink,
		metrics:         deps.Metrics,
		registry:        registry,
		logger:          logger,
		persistRetry:    persistRetry,
		deadLetterRetry: deadLetterRetry,
	}, nil
}

// Registry возвращает реестр состояний партиций.
func (i *Ingestor) Registry() *Registry {
	return i.registry
}

// Run обрабатывает партицию, пока не отменён ctx или не закрыт источник.
// Возвращает nil при штатной остановке и ошибку с domain.ErrPartitionFailed,
// если партиция перешла в FAILED. Повторный запуск отказавшей партиции
// сразу возвращает domain.ErrPartitionFailed.
func (i *Ingestor) Run(ctx context.Context, source PartitionSource) error {
	tp := source.TopicPartition()
	if i.registry.IsFailed(tp) {
		return fmt.Errorf("%w: %s", domain.ErrPartitionFailed, tp)
	}

	w := &partitionWorker{
		ingestor: i,
		source:   source,
		tp:       tp,
		next:     -1,
		logger: i.logger.WithFields(log.Fields{
			"topic":     tp.Topic,
			"partition": tp.Partition,
		}),
	}

	i.metrics.PartitionClaimed()
	defer i.metrics.PartitionReleased()
	defer i.registry.release(tp)

	return w.run(ctx)
}
