package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/order-consumer/internal/health"
	"github.com/vladislavdragonenkov/order-consumer/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/etcd"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/memory"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/postgres"
	"github.com/vladislavdragonenkov/order-consumer/internal/storage/redis"
)

const pingTimeout = 2 * time.Second

// runtimeDependencies — хранилища и sink'и, выбранные конфигурацией.
type runtimeDependencies struct {
	orders    domain.OrderRepository
	positions domain.PositionStore
	sink      domain.DeadLetterSink
	// retention nil, если выбранный sink не поддерживает удаление.
	retention domain.DeadLetterRetention
	checkers  map[string]healthcheck.Checker
	closers   []func() error
}

func (d *runtimeDependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// close освобождает ресурсы в обратном порядке открытия.
func (d *runtimeDependencies) close(logger *log.Entry) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.WithError(err).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}

// initRuntimeDependencies открывает подключения согласно cfg. При ошибке
// уже открытые ресурсы закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *runtimeDependencies, err error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
		}
	}()

	var store *postgres.Store
	switch cfg.Storage.Driver {
	case StorageDriverMemory:
		deps.orders = memory.NewOrderRepository()
	case StorageDriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err = postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.onClose(store.Close)
		if cfg.Storage.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		deps.orders = postgres.NewOrderRepository(store)
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", pingTimeout, store.Ping)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	switch backend := cfg.PositionBackend(); backend {
	case PositionBackendMemory:
		deps.positions = memory.NewPositionStore()
	case PositionBackendPostgres:
		if store == nil {
			return nil, errors.New("postgres position backend requires postgres storage driver")
		}
		deps.positions = postgres.NewPositionStore(store)
	case PositionBackendEtcd:
		client, err := etcd.NewClient(cfg.Positions.EtcdEndpoints)
		if err != nil {
			return nil, err
		}
		deps.onClose(client.Close)
		deps.positions = etcd.NewPositionStore(client, cfg.Positions.EtcdPrefix)
		deps.checkers["etcd"] = healthcheck.NewPingChecker("etcd", pingTimeout, func(ctx context.Context) error {
			_, err := client.Get(ctx, cfg.Positions.EtcdPrefix)
			return err
		})
	default:
		return nil, fmt.Errorf("unsupported position backend %q", backend)
	}

	switch cfg.DeadLetters.Sink {
	case DeadLetterSinkMemory:
		sink := memory.NewDeadLetterSink()
		deps.sink = sink
		deps.retention = sink
	case DeadLetterSinkPostgres:
		if store == nil {
			return nil, errors.New("postgres dead letter sink requires postgres storage driver")
		}
		repo := postgres.NewDeadLetterRepository(store)
		deps.sink = repo
		deps.retention = repo
	case DeadLetterSinkKafka:
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		deps.onClose(producer.Close)
		deps.sink = kafka.NewDeadLetterSink(producer, cfg.DeadLetters.Topic)
	case DeadLetterSinkRedis:
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:     cfg.DeadLetters.RedisAddr,
			Password: cfg.DeadLetters.RedisPassword,
			DB:       cfg.DeadLetters.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		deps.onClose(client.Close)
		deps.sink = redis.NewDeadLetterStream(client, cfg.DeadLetters.RedisStream, cfg.DeadLetters.RedisMaxLen)
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", pingTimeout, func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	default:
		return nil, fmt.Errorf("unsupported dead letter sink %q", cfg.DeadLetters.Sink)
	}

	logger.WithFields(log.Fields{
		"storage":   cfg.Storage.Driver,
		"positions": cfg.PositionBackend(),
		"dlq_sink":  cfg.DeadLetters.Sink,
	}).Info("runtime dependencies initialized")
	return deps, nil
}
