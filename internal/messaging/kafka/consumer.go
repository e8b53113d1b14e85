package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/ingestor"
)

// PartitionRunner обрабатывает одну партицию до конца сессии.
type PartitionRunner interface {
	Run(ctx context.Context, source ingestor.PartitionSource) error
}

// ConsumerConfig параметры consumer group.
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	ClientID      string
	InitialOffset string // oldest | newest
}

// Consumer — consumer group, запускающая воркер на каждую полученную партицию.
type Consumer struct {
	consumer  sarama.ConsumerGroup
	topics    []string
	runner    PartitionRunner
	positions domain.PositionStore
	logger    *log.Entry
	wg        sync.WaitGroup
}

// NewConsumer создает новый Kafka consumer. positions может быть nil, тогда
// стартовые offset'ы берутся только из Kafka.
func NewConsumer(cfg ConsumerConfig, runner PartitionRunner, positions domain.PositionStore) (*Consumer, error) {
	if runner == nil {
		return nil, errors.New("partition runner is required")
	}

	config, err := newConsumerConfig(cfg)
	if err != nil {
		return nil, err
	}

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer:  consumer,
		topics:    cfg.Topics,
		runner:    runner,
		positions: positions,
		logger:    log.WithField("component", "kafka-consumer"),
	}, nil
}

func newConsumerConfig(cfg ConsumerConfig) (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Return.Errors = true
	// Позиция коммитится в хранилище; в Kafka она дублируется через MarkOffset.
	config.Consumer.Offsets.AutoCommit.Enable = true
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}

	switch strings.ToLower(strings.TrimSpace(cfg.InitialOffset)) {
	case "", "oldest":
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "newest":
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("unsupported initial offset %q", cfg.InitialOffset)
	}
	return config, nil
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}

			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Run запускает consumer и блокируется до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session. Если в хранилище позиций
// есть прогресс, начальный offset claim'а выставляется по нему.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	if c.positions == nil || session == nil {
		return nil
	}

	for topic, partitions := range session.Claims() {
		for _, partition := range partitions {
			tp := domain.TopicPartition{Topic: topic, Partition: partition}
			position, err := c.positions.Load(session.Context(), tp)
			if errors.Is(err, domain.ErrPositionNotFound) {
				continue
			}
			if err != nil {
				// Воркер повторит загрузку позиции с ретраями и решит сам.
				c.logger.WithError(err).WithField("partition", tp.String()).Warn("failed to load stored position")
				continue
			}
			session.ResetOffset(topic, partition, position.NextOffset, "")
			c.logger.WithFields(log.Fields{
				"topic":       topic,
				"partition":   partition,
				"next_offset": position.NextOffset,
			}).Debug("claim offset reset to stored position")
		}
	}
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim передаёт partition воркеру. Отказавшая партиция не
// возвращает ошибку сразу: возврат из ConsumeClaim завершил бы всю сессию,
// поэтому обработчик ждёт её окончания.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	source := newClaimSource(session, claim)

	err := c.runner.Run(session.Context(), source)
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrPartitionFailed) {
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":     claim.Topic(),
			"partition": claim.Partition(),
		}).Error("partition is failed, holding claim until session ends")
		<-session.Context().Done()
		return nil
	}
	return err
}
