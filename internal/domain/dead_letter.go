package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadLetter — сообщение, которое не удалось обработать.
type DeadLetter struct {
	ID       uuid.UUID
	Source   RawRecord
	Reason   string
	Field    string
	FailedAt time.Time
}

// NewDeadLetter формирует запись для dead-letter sink на основе ошибки обработки.
func NewDeadLetter(record RawRecord, cause error) DeadLetter {
	dl := DeadLetter{
		ID:       uuid.New(),
		Source:   record,
		FailedAt: time.Now().UTC(),
	}
	if cause != nil {
		dl.Reason = cause.Error()
	}
	if field, ok := DecodeErrorField(cause); ok {
		dl.Field = field
	}
	return dl
}
