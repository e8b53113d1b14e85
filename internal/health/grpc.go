package health

import (
	"context"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName — имя сервиса в gRPC health protocol.
const ServiceName = "orders.consumer"

// SyncGRPC периодически переносит сводный статус в gRPC health server,
// пока не отменён ctx. Перед выходом сервис помечается NOT_SERVING.
func SyncGRPC(ctx context.Context, handler *Handler, server *grpchealth.Server, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if handler.Evaluate().Status == StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus("", status)
		server.SetServingStatus(ServiceName, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			server.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
