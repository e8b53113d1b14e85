package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/order-consumer/internal/domain"
)

// DeadLetterSink хранит dead-letter записи в памяти.
type DeadLetterSink struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
}

// NewDeadLetterSink создаёт in-memory dead-letter sink.
func NewDeadLetterSink() *DeadLetterSink {
	return &DeadLetterSink{}
}

func (s *DeadLetterSink) Send(ctx context.Context, letter domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	letter.Source.Payload = append([]byte(nil), letter.Source.Payload...)
	letter.Source.Key = append([]byte(nil), letter.Source.Key...)
	s.letters = append(s.letters, letter)
	return nil
}

// Letters возвращает копию накопленных записей.
func (s *DeadLetterSink) Letters() []domain.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DeadLetter, len(s.letters))
	copy(out, s.letters)
	return out
}

// DeleteExpired удаляет записи с FailedAt <= before, не больше limit за вызов.
func (s *DeadLetterSink) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.letters[:0]
	removed := 0
	for _, letter := range s.letters {
		if !letter.FailedAt.After(before) && (limit <= 0 || removed < limit) {
			removed++
			continue
		}
		kept = append(kept, letter)
	}
	s.letters = kept
	return removed, nil
}

var (
	_ domain.DeadLetterSink      = (*DeadLetterSink)(nil)
	_ domain.DeadLetterRetention = (*DeadLetterSink)(nil)
)
