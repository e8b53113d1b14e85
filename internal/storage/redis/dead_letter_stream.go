// Package redis пишет dead-letter записи в Redis Stream.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

const (
	DefaultStream = "orders:dead-letters"
	defaultMaxLen = 100_000
)

// Config описывает подключение к Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient создаёт клиента и проверяет соединение.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

type streamAdder interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
}

// DeadLetterStream — dead-letter sink поверх XADD. Redis-клиент безопасен
// для конкурентного использования, поэтому sink тоже.
type DeadLetterStream struct {
	client streamAdder
	stream string
	maxLen int64
}

// NewDeadLetterStream создаёт sink; maxLen<=0 означает ограничение по умолчанию.
func NewDeadLetterStream(client streamAdder, stream string, maxLen int64) *DeadLetterStream {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &DeadLetterStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *DeadLetterStream) Send(ctx context.Context, letter domain.DeadLetter) error {
	err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":                 letter.ID.String(),
			"original_topic":     letter.Source.Topic,
			"original_partition": strconv.FormatInt(int64(letter.Source.Partition), 10),
			"original_offset":    strconv.FormatInt(letter.Source.Offset, 10),
			"original_key":       string(letter.Source.Key),
			"original_value":     string(letter.Source.Payload),
			"error_message":      letter.Reason,
			"field":              letter.Field,
			"failed_at":          letter.FailedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: redis xadd %s: %w", domain.ErrDeadLetterUnavailable, s.stream, err)
	}
	return nil
}

var _ domain.DeadLetterSink = (*DeadLetterStream)(nil)
