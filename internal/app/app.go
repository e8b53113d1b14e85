package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/order-consumer/internal/decoder"
	healthcheck "github.com/vladislavdragonenkov/order-consumer/internal/health"
	"github.com/vladislavdragonenkov/order-consumer/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/order-consumer/internal/metrics"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/committer"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/ingestor"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/persister"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retention"
	"github.com/vladislavdragonenkov/order-consumer/internal/service/retry"
	"github.com/vladislavdragonenkov/order-consumer/internal/version"
)

const (
	grpcStopTimeout    = 5 * time.Second
	healthSyncInterval = 5 * time.Second
)

// Run поднимает pipeline и блокируется до отмены ctx или фатальной ошибки
// одного из компонентов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	pipelineMetrics := metrics.NewPipelineMetrics()
	ing, err := newIngestor(cfg, deps, pipelineMetrics)
	if err != nil {
		return err
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Kafka.GroupID,
		Topics:        cfg.Kafka.Topics,
		ClientID:      cfg.Kafka.ClientID,
		InitialOffset: cfg.Kafka.InitialOffset,
	}, ing, deps.positions)
	if err != nil {
		return err
	}

	healthHandler := newHealthHandler(ing.Registry(), deps.checkers)
	grpcServer, healthServer := newGRPCServer(logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = consumer.Stop()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		return serveGRPC(gctx, grpcServer, lis, cfg.GRPCAddr, logger)
	})
	g.Go(func() error {
		healthcheck.SyncGRPC(gctx, healthHandler, healthServer, healthSyncInterval)
		return nil
	})
	if deps.retention != nil {
		worker := retention.NewCleanupWorker(deps.retention,
			retention.WithLogger(log.WithField("component", "dead-letter-retention")),
			retention.WithMetrics(pipelineMetrics),
			retention.WithInterval(cfg.Retention.Interval),
			retention.WithTTL(cfg.Retention.TTL),
			retention.WithBatchSize(cfg.Retention.BatchSize),
		)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}
	metricsSrv := startMetricsServer(gctx, cfg.MetricsAddr, logger, healthHandler)

	err = g.Wait()
	shutdownHTTP(metricsSrv, logger)
	if err != nil {
		return err
	}
	return ctx.Err()
}

// newIngestor собирает цепочку decoder → persister → committer → ingestor.
func newIngestor(cfg Config, deps *runtimeDependencies, m *metrics.PipelineMetrics) (*ingestor.Ingestor, error) {
	commitLogger := log.WithField("component", "committer")
	commitRetry := retry.New(cfg.RetryConfig(), commitLogger).
		WithNotifier(func(string, int, error) { m.RecordRetry(metrics.StageCommit) })

	return ingestor.New(ingestor.Dependencies{
		Decoder:   decoder.New(),
		Persister: persister.New(deps.orders, log.WithField("component", "persister")),
		Committer: committer.New(deps.positions, commitRetry, commitLogger),
		Sink:      deps.sink,
		Metrics:   m,
		Registry:  ingestor.NewRegistry(m),
		Logger:    log.WithField("component", "ingestor"),
	}, cfg.IngestorConfig())
}

func newHealthHandler(partitions healthcheck.PartitionReporter, checkers map[string]healthcheck.Checker) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("partitions", healthcheck.NewPartitionsChecker(partitions))
	for name, checker := range checkers {
		handler.RegisterChecker(name, checker)
	}
	return handler
}

// newGRPCServer создаёт gRPC-сервер со служебными сервисами: health и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// serveGRPC обслуживает lis до отмены ctx, затем останавливает сервер
// с ограничением по времени.
func serveGRPC(ctx context.Context, srv *grpc.Server, lis net.Listener, addr string, logger *log.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", addr)
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		stoppedCh := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(grpcStopTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			srv.Stop()
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc server: %w", err)
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
