package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload — payload не является JSON-объектом ожидаемой структуры.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingField — обязательное поле отсутствует или равно null.
	ErrMissingField = errors.New("required field is missing")
	// ErrBlankItem — поле item пустое.
	ErrBlankItem = errors.New("item must not be blank")
	// ErrNonNumericAmount — amount не является числом.
	ErrNonNumericAmount = errors.New("amount must be a number")
	// ErrNegativeAmount — amount меньше нуля.
	ErrNegativeAmount = errors.New("amount must be non-negative")
	// ErrAmountOutOfRange — amount не помещается в NUMERIC(38,18).
	ErrAmountOutOfRange = errors.New("amount is out of range")

	// ErrInvalidOrder — запись нарушает инварианты хранилища; повтор не поможет.
	ErrInvalidOrder = errors.New("invalid order record")
	// ErrStoreUnavailable — хранилище временно недоступно, операцию можно повторить.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyInvalid — ключ не разбирается в topic/partition/offset.
	ErrIdempotencyKeyInvalid = errors.New("invalid idempotency key")

	// ErrPositionNotFound — для партиции ещё нет сохранённой позиции.
	ErrPositionNotFound = errors.New("consumption position not found")
	// ErrPartitionFailed — партиция остановлена после исчерпания повторов.
	ErrPartitionFailed = errors.New("partition failed")
	// ErrDeadLetterUnavailable — dead-letter sink не принял сообщение.
	ErrDeadLetterUnavailable = errors.New("dead letter sink unavailable")
)

// DecodeError описывает отказ декодера с указанием проблемного поля.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode order: %v", e.Err)
	}
	return fmt.Sprintf("decode order: field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError создаёт DecodeError для поля.
func NewDecodeError(field string, err error) *DecodeError {
	return &DecodeError{Field: field, Err: err}
}

// DecodeErrorField возвращает имя поля, если err содержит DecodeError.
func DecodeErrorField(err error) (string, bool) {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Field, true
	}
	return "", false
}

// CommitError — коммит позиции не удался после всех попыток.
type CommitError struct {
	Partition  TopicPartition
	NextOffset int64
	Attempts   int
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s next_offset=%d failed after %d attempts: %v", e.Partition, e.NextOffset, e.Attempts, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// DeadLetterReason возвращает метку причины для метрик dead-letter.
func DeadLetterReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrBlankItem):
		return "blank_item"
	case errors.Is(err, ErrNonNumericAmount):
		return "non_numeric_amount"
	case errors.Is(err, ErrNegativeAmount):
		return "negative_amount"
	case errors.Is(err, ErrAmountOutOfRange):
		return "amount_out_of_range"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	default:
		return "unknown"
	}
}

// IsRetryable сообщает, имеет ли смысл повторять операцию с хранилищем.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDeadLetterUnavailable)
}

// IsDeadLetterable сообщает, что запись нужно увести в dead-letter вместо повтора.
func IsDeadLetterable(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr) || errors.Is(err, ErrInvalidOrder)
}
